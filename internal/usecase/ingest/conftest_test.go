package ingest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

var testBindings = []domain.Binding{
	{Kind: domain.ProviderCohere, Model: "embed-english-v3.0", Dimensions: 2, Collection: "docs"},
	{Kind: domain.ProviderOpenAI, Model: "text-embedding-3-small", Dimensions: 2, Collection: "docs__openai"},
}

// paragraphChunker emits one chunk per blank-line separated paragraph.
type paragraphChunker struct{}

func (paragraphChunker) Chunk(src domain.Source) []domain.Chunk {
	var out []domain.Chunk
	for p := range strings.SplitSeq(src.Text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, domain.NewChunk(src.File, src.Location, p, domain.ChunkParagraph, src.Metadata))
		}
	}
	return out
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error)
}

func (m *mockEmbedder) EmbedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, chunks)
	}
	out := make([]domain.EmbeddingVector, len(chunks))
	for i, c := range chunks {
		out[i] = domain.NewEmbeddingVector(c, []float32{1, 0}, testBindings[0])
	}
	return out, nil
}

func (m *mockEmbedder) Bindings() []domain.Binding { return testBindings }

// mockStore records calls in order. Nil funcs succeed.
type mockStore struct {
	mu       sync.Mutex
	events   []string
	upserted map[string][]domain.EmbeddingVector

	createFn func(name string, dims int) error
	upsertFn func(name string, vectors []domain.EmbeddingVector) (vectorstore.UpsertReport, error)
	deleteFn func(name string, f filter.Expression) error
}

func (m *mockStore) record(event string) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *mockStore) CreateCollection(
	_ context.Context, name string, dims int, _ domain.DistanceMetric, _ bool,
) error {
	m.record("create " + name)
	if m.createFn != nil {
		return m.createFn(name, dims)
	}
	return nil
}

func (m *mockStore) Upsert(
	_ context.Context, name string, vectors []domain.EmbeddingVector,
) (vectorstore.UpsertReport, error) {
	m.record("upsert " + name)
	m.mu.Lock()
	if m.upserted == nil {
		m.upserted = make(map[string][]domain.EmbeddingVector)
	}
	m.upserted[name] = append(m.upserted[name], vectors...)
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(name, vectors)
	}
	return vectorstore.UpsertReport{Upserted: len(vectors)}, nil
}

func (m *mockStore) DeleteByFilter(_ context.Context, name string, f filter.Expression) error {
	m.record("delete " + name)
	if m.deleteFn != nil {
		return m.deleteFn(name, f)
	}
	return nil
}

func newTestService(e *mockEmbedder, st VectorStore, opts ...Option) *Service {
	return New(paragraphChunker{}, e, st, opts...)
}

// flakyBackend fails upserts while failUpsert is set, as an unreachable store would.
type flakyBackend struct {
	vectorstore.Backend
	failUpsert atomic.Bool
}

func (b *flakyBackend) Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) error {
	if b.failUpsert.Load() {
		return domain.ErrStoreUnavailable
	}
	return b.Backend.Upsert(ctx, name, vectors)
}
