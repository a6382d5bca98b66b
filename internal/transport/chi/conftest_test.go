package chi

import (
	"context"
	"net/http"
	"sync"

	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

type mockRetriever struct {
	retrieveFn func(ctx context.Context, req retrieval.Request) ([]domain.RetrievalResult, error)
	requests   []retrieval.Request
}

func (m *mockRetriever) Retrieve(ctx context.Context, req retrieval.Request) ([]domain.RetrievalResult, error) {
	m.requests = append(m.requests, req)
	if m.retrieveFn != nil {
		return m.retrieveFn(ctx, req)
	}
	return nil, nil
}

type mockIngester struct {
	mu       sync.Mutex
	ingestFn func(ctx context.Context, src domain.Source) dombatch.Result
	removeFn func(ctx context.Context, sourceFile string) error
	sources  []domain.Source
	removed  []string
}

func (m *mockIngester) IngestDocument(ctx context.Context, src domain.Source) dombatch.Result {
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
	if m.ingestFn != nil {
		return m.ingestFn(ctx, src)
	}
	return dombatch.NewOK(src.File, 1, 1, 0)
}

func (m *mockIngester) RemoveSource(ctx context.Context, sourceFile string) error {
	m.mu.Lock()
	m.removed = append(m.removed, sourceFile)
	m.mu.Unlock()
	if m.removeFn != nil {
		return m.removeFn(ctx, sourceFile)
	}
	return nil
}

type mockCollections struct {
	infoFn func(ctx context.Context, name string) (domain.CollectionInfo, error)
}

func (m *mockCollections) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	if m.infoFn != nil {
		return m.infoFn(ctx, name)
	}
	return domain.CollectionInfo{}, domain.ErrCollectionNotFound
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type fixture struct {
	retriever   *mockRetriever
	ingester    *mockIngester
	collections *mockCollections
	health      *mockHealth
}

func newFixture() *fixture {
	return &fixture{
		retriever:   &mockRetriever{},
		ingester:    &mockIngester{},
		collections: &mockCollections{},
		health: &mockHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{healthuc.ComponentStore: healthuc.CheckOK},
		}},
	}
}

func (f *fixture) router(apiKeys ...string) http.Handler {
	s := NewServer(f.retriever, f.ingester, f.collections, f.health, nil)
	return NewRouter(s, apiKeys, nil)
}
