// Package openai implements embedding providers that speak the OpenAI embeddings API.
// Jina exposes the same wire format, so both kinds share this client.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// Default endpoints and limits per provider kind.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"

	defaultMaxBatchSize   = 256
	defaultMaxInputLength = 32_000
)

// Embedder is a batch embedding provider over an OpenAI-compatible API.
type Embedder struct {
	client         *openai.Client
	kind           domain.ProviderKind
	model          string
	dimensions     int
	maxBatchSize   int
	maxInputLength int
	sendDimensions bool
	user           string
	logger         *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	Kind           domain.ProviderKind
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	MaxBatchSize   int
	MaxInputLength int
	// SendDimensions asks the API to shorten vectors to Dimensions.
	// Only models with Matryoshka support accept it.
	SendDimensions bool
	User           string
	Logger         *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	kind := cfg.Kind
	if kind == "" {
		kind = domain.ProviderOpenAI
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
		if kind == domain.ProviderJina {
			baseURL = DefaultJinaBaseURL
		}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Embedder{
		client:         openai.NewClientWithConfig(clientCfg),
		kind:           kind,
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		maxBatchSize:   cfg.MaxBatchSize,
		maxInputLength: cfg.MaxInputLength,
		sendDimensions: cfg.SendDimensions,
		user:           cfg.User,
		logger:         logger,
	}
	if e.maxBatchSize <= 0 {
		e.maxBatchSize = defaultMaxBatchSize
	}
	if e.maxInputLength <= 0 {
		e.maxInputLength = defaultMaxInputLength
	}
	return e
}

// Kind returns the provider kind this client was configured as.
func (e *Embedder) Kind() domain.ProviderKind { return e.kind }

// Model returns the configured model name.
func (e *Embedder) Model() string { return e.model }

// Dimensions returns the declared vector size.
func (e *Embedder) Dimensions() int { return e.dimensions }

// MaxInputLength returns the maximum characters per text.
func (e *Embedder) MaxInputLength() int { return e.maxInputLength }

// MaxBatchSize returns the maximum texts per call.
func (e *Embedder) MaxBatchSize() int { return e.maxBatchSize }

// Embed implements domain.Provider. Vectors are returned in input order.
func (e *Embedder) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	if err := domain.ValidateRequest(e, req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = e.model
	}
	provider := string(e.kind)

	apiReq := openai.EmbeddingRequest{
		Input:          req.Texts,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.sendDimensions && e.dimensions > 0 {
		apiReq.Dimensions = e.dimensions
	}
	if e.kind == domain.ProviderJina {
		apiReq.ExtraBody = map[string]any{"task": jinaTask(req.InputType)}
	}

	metrics.EmbeddingTextsTotal.WithLabelValues(provider, model, string(req.InputType)).Add(float64(len(req.Texts)))
	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, apiReq)

	duration := time.Since(start)

	if err != nil {
		perr := e.parseAPIError(err)
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, perr.Kind.String()).Inc()
		return nil, perr
	}

	vectors := make([][]float32, len(resp.Data))
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	for i, d := range data {
		vectors[i] = d.Embedding
	}

	if err := domain.ValidateVectors(vectors, len(req.Texts), e.dimensions); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, domain.KindOf(err).String()).Inc()
		return nil, fmt.Errorf("%s embeddings: %w", provider, err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())

	e.logger.Debug("Embedding batch completed",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("batch_size", len(req.Texts)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", duration),
	)

	return vectors, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", e.parseAPIError(err))
	}
	return nil
}

// parseAPIError classifies a client error into the provider failure taxonomy.
func (e *Embedder) parseAPIError(err error) *domain.ProviderError {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := extractDetail(reqErr.Body)
		if msg == "" {
			msg = string(reqErr.Body)
		}
		perr := domain.NewProviderError(e.kind, reqErr.HTTPStatusCode, msg)
		perr.Err = reqErr.Err
		return perr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return domain.NewProviderError(e.kind, apiErr.HTTPStatusCode, apiErr.Message)
	}

	return &domain.ProviderError{Provider: e.kind, Kind: domain.KindOf(err), Err: err}
}

// jinaTask selects the retrieval adapter for Jina v3+ models.
func jinaTask(t domain.InputType) string {
	if t == domain.InputQuery {
		return "retrieval.query"
	}
	return "retrieval.passage"
}

// extractDetail pulls a message out of a JSON error body.
// Jina and several OpenAI-compatible hosts answer with {"detail": "..."}.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error.Message
}
