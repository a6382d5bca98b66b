package retrieval

import (
	"context"
	"sync"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

// mockEmbedder returns one-element vectors keyed by text.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) (domain.QueryVector, error)
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) (domain.QueryVector, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return domain.QueryVector{Vector: []float32{1}, Collection: "docs"}, nil
}

type searchCall struct {
	collection string
	query      vectorstore.SearchQuery
}

// mockSearcher answers by the first vector component: 1 is the query, 2 the context.
type mockSearcher struct {
	mu       sync.Mutex
	calls    []searchCall
	searchFn func(ctx context.Context, name string, q vectorstore.SearchQuery) ([]domain.RetrievalResult, error)
}

func (m *mockSearcher) Search(
	ctx context.Context, name string, q vectorstore.SearchQuery,
) ([]domain.RetrievalResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, searchCall{collection: name, query: q})
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(ctx, name, q)
	}
	return nil, nil
}

func (m *mockSearcher) callFor(first float32) (searchCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.query.Vector[0] == first {
			return c, true
		}
	}
	return searchCall{}, false
}

// twoVectors embeds the query as [1] and anything else as [2].
func twoVectors(query string) *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, text string) (domain.QueryVector, error) {
		v := float32(2)
		if text == query {
			v = 1
		}
		return domain.QueryVector{Vector: []float32{v}, Collection: "docs"}, nil
	}}
}

func byVector(fromQuery, fromContext []domain.RetrievalResult) *mockSearcher {
	return &mockSearcher{searchFn: func(
		_ context.Context, _ string, q vectorstore.SearchQuery,
	) ([]domain.RetrievalResult, error) {
		if q.Vector[0] == 1 {
			return fromQuery, nil
		}
		return fromContext, nil
	}}
}

func hit(id string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{ChunkID: id, Text: "passage " + id, Score: score, MatchedVia: domain.MatchedQuery}
}
