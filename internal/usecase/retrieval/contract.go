package retrieval

import (
	"context"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

// Embedder turns live text into a query vector bound to a collection.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) (domain.QueryVector, error)
}

// Searcher runs similarity search against a collection.
type Searcher interface {
	Search(ctx context.Context, name string, q vectorstore.SearchQuery) ([]domain.RetrievalResult, error)
}
