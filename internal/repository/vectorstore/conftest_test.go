package vectorstore

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
)

// mockBackend implements Backend for tests.
type mockBackend struct {
	mu sync.Mutex

	infoFn   func(name string) (domain.CollectionInfo, error)
	upsertFn func(call int, vectors []domain.EmbeddingVector) error
	searchFn func(q SearchQuery) ([]domain.RetrievalResult, error)
	deleteFn func(f filter.Expression) error

	created  []string
	dropped  []string
	upserted [][]domain.EmbeddingVector
	searches []SearchQuery
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) CreateCollection(_ context.Context, name string, _ int, _ domain.DistanceMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, name)
	return nil
}

func (m *mockBackend) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, name)
	return nil
}

func (m *mockBackend) CollectionInfo(_ context.Context, name string) (domain.CollectionInfo, error) {
	if m.infoFn != nil {
		return m.infoFn(name)
	}
	return domain.CollectionInfo{Name: name, Dimensions: 3, Distance: domain.DistanceCosine}, nil
}

func (m *mockBackend) Upsert(_ context.Context, _ string, vectors []domain.EmbeddingVector) error {
	m.mu.Lock()
	call := len(m.upserted)
	m.upserted = append(m.upserted, vectors)
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(call, vectors)
	}
	return nil
}

func (m *mockBackend) Search(_ context.Context, _ string, q SearchQuery) ([]domain.RetrievalResult, error) {
	m.mu.Lock()
	m.searches = append(m.searches, q)
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(q)
	}
	return nil, nil
}

func (m *mockBackend) DeleteByFilter(_ context.Context, _ string, f filter.Expression) error {
	if m.deleteFn != nil {
		return m.deleteFn(f)
	}
	return nil
}

func (m *mockBackend) Ping(context.Context) error { return nil }
func (m *mockBackend) Close() error               { return nil }

// recordSleeps replaces the batch delay sleep with a recorder.
func recordSleeps(s *Store) *[]time.Duration {
	var got []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		got = append(got, d)
		return nil
	}
	return &got
}

func vectorsOf(n, dims int) []domain.EmbeddingVector {
	out := make([]domain.EmbeddingVector, n)
	for i := range out {
		c := domain.NewChunk("a.md", "", string(rune('a'+i))+" passage", domain.ChunkParagraph, nil)
		out[i] = domain.NewEmbeddingVector(c, make([]float32, dims), domain.Binding{Collection: "docs"})
	}
	return out
}

func hit(id string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{ChunkID: id, Score: score, MatchedVia: domain.MatchedQuery}
}
