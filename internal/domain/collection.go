package domain

import "fmt"

// DistanceMetric is the similarity function a collection is built with.
type DistanceMetric string

// Supported distance metrics.
const (
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
	DistanceEuclid DistanceMetric = "euclid"
)

// ParseDistance validates a configured distance metric. Empty means cosine.
func ParseDistance(s string) (DistanceMetric, error) {
	switch d := DistanceMetric(s); d {
	case "":
		return DistanceCosine, nil
	case DistanceCosine, DistanceDot, DistanceEuclid:
		return d, nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// CollectionInfo describes a named, dimensionality-bound vector collection.
type CollectionInfo struct {
	Name        string
	Dimensions  int
	Distance    DistanceMetric
	PointsCount int
	Status      string
}

// CheckDimensions rejects a vector whose length differs from the collection size.
func (c CollectionInfo) CheckDimensions(n int) error {
	if c.Dimensions > 0 && n != c.Dimensions {
		return &DimensionMismatchError{Expected: c.Dimensions, Actual: n}
	}
	return nil
}

// Source is raw document text with provenance, as handed to the chunker.
type Source struct {
	File     string
	Location string
	Text     string
	Metadata map[string]string
}
