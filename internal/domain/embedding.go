package domain

import (
	"context"
	"fmt"
)

// ProviderKind names an embedding vendor. It is the registry key in configuration.
type ProviderKind string

// Supported provider kinds.
const (
	ProviderCohere ProviderKind = "cohere"
	ProviderJina   ProviderKind = "jina"
	ProviderOpenAI ProviderKind = "openai"
)

// ParseProviderKind validates a configured provider name.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(s); k {
	case ProviderCohere, ProviderJina, ProviderOpenAI:
		return k, nil
	}
	return "", fmt.Errorf("unknown embedding provider %q", s)
}

// InputType hints the provider whether texts are stored passages or live queries.
type InputType string

// Input types.
const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// EmbedRequest is a single provider call.
type EmbedRequest struct {
	Texts     []string
	Model     string
	InputType InputType
}

// Provider converts a batch of texts into fixed-size vectors.
// Implementations return one vector per text, in input order.
type Provider interface {
	Kind() ProviderKind
	Model() string
	Dimensions() int
	MaxInputLength() int
	MaxBatchSize() int
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ValidateRequest enforces the provider preconditions on input length and batch size.
func ValidateRequest(p Provider, req EmbedRequest) error {
	if len(req.Texts) == 0 {
		return ErrEmptyInput
	}
	if maxBatch := p.MaxBatchSize(); maxBatch > 0 && len(req.Texts) > maxBatch {
		return &BatchTooLargeError{Actual: len(req.Texts), Max: maxBatch}
	}
	if maxLen := p.MaxInputLength(); maxLen > 0 {
		for _, t := range req.Texts {
			if len(t) > maxLen {
				return &ContentTooLongError{Actual: len(t), Max: maxLen}
			}
		}
	}
	return nil
}

// ValidateVectors checks the provider postcondition: count and dimensionality.
func ValidateVectors(vectors [][]float32, wantCount, dims int) error {
	if len(vectors) != wantCount {
		return fmt.Errorf("got %d vectors for %d inputs: %w", len(vectors), wantCount, ErrGenerationFailed)
	}
	if dims <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != dims {
			return &DimensionMismatchError{Expected: dims, Actual: len(v)}
		}
	}
	return nil
}
