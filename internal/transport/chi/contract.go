package chi

import (
	"context"

	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

// Retriever answers retrieval requests.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]domain.RetrievalResult, error)
}

// Ingester stores and removes sources.
type Ingester interface {
	IngestDocument(ctx context.Context, src domain.Source) dombatch.Result
	RemoveSource(ctx context.Context, sourceFile string) error
}

// CollectionReader reports collection state.
type CollectionReader interface {
	CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
