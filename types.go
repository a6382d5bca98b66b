package vecrag

import (
	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
)

// Document is raw text to ingest.
type Document struct {
	// SourceFile identifies the document. Ingesting it again replaces its chunks.
	SourceFile string
	Location   string
	Text       string
	Metadata   map[string]string
}

// IngestStatus is the outcome of ingesting one document.
type IngestStatus string

// Ingest outcomes. Partial means some chunks were skipped because the store was unreachable.
const (
	IngestOK      IngestStatus = IngestStatus(dombatch.StatusOK)
	IngestPartial IngestStatus = IngestStatus(dombatch.StatusPartial)
	IngestError   IngestStatus = IngestStatus(dombatch.StatusError)
)

// IngestResult reports what happened to one document.
type IngestResult struct {
	SourceFile string
	Status     IngestStatus
	Chunks     int
	Stored     int
	Skipped    int
	Err        error
}

// RetrieveOptions narrows a retrieval. The zero value uses the client defaults.
type RetrieveOptions struct {
	// Context holds highlighted passages searched alongside the query.
	Context    []string
	MaxResults int
	MinScore   *float64
	// Match keeps only chunks whose metadata equals every given value.
	Match map[string]string
}

// Result is a retrieved chunk. Higher scores are better.
type Result struct {
	ChunkID        string
	Text           string
	SourceFile     string
	SourceLocation string
	ChunkType      string
	Metadata       map[string]string
	Score          float64
	// MatchedVia is "query" or "context".
	MatchedVia string
	Collection string
}

func (d Document) toDomain() domain.Source {
	return domain.Source{File: d.SourceFile, Location: d.Location, Text: d.Text, Metadata: d.Metadata}
}

func fromBatchResult(r dombatch.Result) IngestResult {
	return IngestResult{
		SourceFile: r.Source(),
		Status:     IngestStatus(r.Status()),
		Chunks:     r.Chunks(),
		Stored:     r.Stored(),
		Skipped:    r.Skipped(),
		Err:        r.Err(),
	}
}

func fromRetrievalResults(in []domain.RetrievalResult) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = Result{
			ChunkID:        r.ChunkID,
			Text:           r.Text,
			SourceFile:     r.SourceFile,
			SourceLocation: r.SourceLocation,
			ChunkType:      string(r.ChunkType),
			Metadata:       r.Metadata,
			Score:          r.Score,
			MatchedVia:     string(r.MatchedVia),
			Collection:     r.Collection,
		}
	}
	return out
}
