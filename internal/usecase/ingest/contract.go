package ingest

import (
	"context"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

// Chunker splits a source into chunks.
type Chunker interface {
	Chunk(src domain.Source) []domain.Chunk
}

// Embedder embeds chunks and reports the collections its providers write to.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error)
	Bindings() []domain.Binding
}

// VectorStore persists vectors.
type VectorStore interface {
	CreateCollection(ctx context.Context, name string, dims int, distance domain.DistanceMetric, recreate bool) error
	Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) (vectorstore.UpsertReport, error)
	DeleteByFilter(ctx context.Context, name string, f filter.Expression) error
}
