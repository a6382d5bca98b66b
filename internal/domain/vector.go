package domain

import "maps"

// EmbeddingVector is the embedding of exactly one Chunk, ready for storage.
type EmbeddingVector struct {
	ID             string
	ChunkID        string
	Vector         []float32
	Model          string
	Provider       ProviderKind
	Dimensionality int
	// Collection is the store collection bound to the producing provider.
	Collection string
	Text       string
	Metadata   map[string]string
}

// NewEmbeddingVector stamps chunk identity and provenance onto a raw vector.
func NewEmbeddingVector(c Chunk, vec []float32, b Binding) EmbeddingVector {
	meta := c.Payload()
	meta[MetaModel] = b.Model
	meta[MetaProvider] = string(b.Kind)
	return EmbeddingVector{
		ID:             c.ID(),
		ChunkID:        c.ID(),
		Vector:         vec,
		Model:          b.Model,
		Provider:       b.Kind,
		Dimensionality: len(vec),
		Collection:     b.Collection,
		Text:           c.Text(),
		Metadata:       meta,
	}
}

// SourceFile returns the source file recorded in the metadata.
func (v EmbeddingVector) SourceFile() string { return v.Metadata[MetaSourceFile] }

// QueryVector is a live query embedding with the collection it must be searched in.
type QueryVector struct {
	Vector     []float32
	Model      string
	Provider   ProviderKind
	Collection string
}

// Binding ties a provider model to the collection its vectors live in.
// Vectors from different bindings are never mixed in one collection.
type Binding struct {
	Kind       ProviderKind
	Model      string
	Dimensions int
	Collection string
}

// MatchedVia tells which search pass surfaced a result.
type MatchedVia string

// Search passes.
const (
	MatchedQuery   MatchedVia = "query"
	MatchedContext MatchedVia = "context"
)

// RetrievalResult is a ranked, request-scoped search hit.
type RetrievalResult struct {
	ChunkID        string
	Text           string
	SourceFile     string
	SourceLocation string
	ChunkType      ChunkType
	Metadata       map[string]string
	Score          float64
	MatchedVia     MatchedVia
	Collection     string
}

// ResultFromPayload hydrates a RetrievalResult from stored payload fields.
// Reserved keys are lifted out; the rest stays in Metadata.
func ResultFromPayload(payload map[string]string, score float64) RetrievalResult {
	meta := maps.Clone(payload)
	r := RetrievalResult{
		ChunkID:        meta[MetaChunkID],
		Text:           meta[MetaText],
		SourceFile:     meta[MetaSourceFile],
		SourceLocation: meta[MetaSourceLocation],
		ChunkType:      ChunkType(meta[MetaChunkType]),
		Score:          score,
		MatchedVia:     MatchedQuery,
	}
	delete(meta, MetaChunkID)
	delete(meta, MetaText)
	delete(meta, MetaSourceFile)
	delete(meta, MetaSourceLocation)
	delete(meta, MetaChunkType)
	delete(meta, MetaSourceRevision)
	r.Metadata = meta
	return r
}
