// Package memory is an in-process vector backend with brute-force search.
// It backs tests and the library facade when no external store is configured.
package memory

import (
	"context"
	"maps"
	"math"
	"sync"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

var _ vectorstore.Backend = (*Backend)(nil)

type point struct {
	vector  []float32
	payload map[string]string
}

type collection struct {
	dims     int
	distance domain.DistanceMetric
	points   map[string]point
}

// Backend keeps collections in memory. Safe for concurrent use.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{collections: make(map[string]*collection)}
}

// Name implements vectorstore.Backend.
func (b *Backend) Name() string { return "memory" }

// CreateCollection replaces any collection with the same name.
func (b *Backend) CreateCollection(_ context.Context, name string, dims int, distance domain.DistanceMetric) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collections[name] = &collection{dims: dims, distance: distance, points: make(map[string]point)}
	return nil
}

// DeleteCollection implements vectorstore.Backend.
func (b *Backend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; !ok {
		return domain.ErrCollectionNotFound
	}
	delete(b.collections, name)
	return nil
}

// CollectionInfo implements vectorstore.Backend.
func (b *Backend) CollectionInfo(_ context.Context, name string) (domain.CollectionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.collections[name]
	if !ok {
		return domain.CollectionInfo{}, domain.ErrCollectionNotFound
	}
	return domain.CollectionInfo{
		Name:        name,
		Dimensions:  c.dims,
		Distance:    c.distance,
		PointsCount: len(c.points),
		Status:      "ready",
	}, nil
}

// Upsert stores vectors keyed by id, replacing existing points.
func (b *Backend) Upsert(_ context.Context, name string, vectors []domain.EmbeddingVector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.collections[name]
	if !ok {
		return domain.ErrCollectionNotFound
	}
	for _, v := range vectors {
		if len(v.Vector) != c.dims {
			return &domain.DimensionMismatchError{Expected: c.dims, Actual: len(v.Vector)}
		}
	}
	for _, v := range vectors {
		payload := maps.Clone(v.Metadata)
		if payload == nil {
			payload = make(map[string]string, 2)
		}
		payload[domain.MetaChunkID] = v.ChunkID
		payload[domain.MetaText] = v.Text
		c.points[v.ID] = point{vector: append([]float32(nil), v.Vector...), payload: payload}
	}
	return nil
}

// Search scores every point that matches the filter.
func (b *Backend) Search(_ context.Context, name string, q vectorstore.SearchQuery) ([]domain.RetrievalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.collections[name]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	if len(q.Vector) != c.dims {
		return nil, &domain.DimensionMismatchError{Expected: c.dims, Actual: len(q.Vector)}
	}

	var out []domain.RetrievalResult
	for _, p := range c.points {
		if !q.Filter.Matches(p.payload) {
			continue
		}
		out = append(out, domain.ResultFromPayload(p.payload, Similarity(c.distance, q.Vector, p.vector)))
	}
	vectorstore.SortByScore(out)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// DeleteByFilter implements vectorstore.Backend.
func (b *Backend) DeleteByFilter(_ context.Context, name string, f filter.Expression) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.collections[name]
	if !ok {
		return domain.ErrCollectionNotFound
	}
	maps.DeleteFunc(c.points, func(_ string, p point) bool { return f.Matches(p.payload) })
	return nil
}

// Ping implements vectorstore.Backend.
func (b *Backend) Ping(context.Context) error { return nil }

// Close implements vectorstore.Backend.
func (b *Backend) Close() error { return nil }

// Similarity scores two equal-length vectors, higher is closer.
// Euclidean distance d is reported as 1/(1+d).
func Similarity(distance domain.DistanceMetric, a, b []float32) float64 {
	var dot, na, nb, sq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch distance {
	case domain.DistanceDot:
		return dot
	case domain.DistanceEuclid:
		return 1 / (1 + math.Sqrt(sq))
	default:
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}
