// Package cohere implements the Cohere embed API as a batch embedding provider.
package cohere

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/cohere-ai/cohere-go/v2/option"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// Ensure Embedder implements the provider interfaces.
var (
	_ domain.Provider      = (*Embedder)(nil)
	_ domain.HealthChecker = (*Embedder)(nil)
)

// Default configuration values.
const (
	DefaultBaseURL        = "https://api.cohere.com"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxBatchSize   = 96
	DefaultMaxInputLength = 8_192
)

// Config holds configuration for the Cohere embedding client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	MaxBatchSize   int
	MaxInputLength int
	Timeout        time.Duration
	Logger         *zap.Logger
}

// Embedder calls the v2 embed endpoint through the Cohere SDK.
type Embedder struct {
	client         *cohereclient.Client
	model          string
	dimensions     int
	maxBatchSize   int
	maxInputLength int
	logger         *zap.Logger
}

// NewEmbedder creates a Cohere embedding client.
func NewEmbedder(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	// Retries belong to the embedding service, so the SDK makes a single attempt.
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxAttempts(1),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithToken(cfg.APIKey))
	}

	return &Embedder{
		client:         cohereclient.NewClient(opts...),
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		maxBatchSize:   cfg.MaxBatchSize,
		maxInputLength: cfg.MaxInputLength,
		logger:         cfg.Logger,
	}
}

func (e *Embedder) Kind() domain.ProviderKind { return domain.ProviderCohere }
func (e *Embedder) Model() string             { return e.model }
func (e *Embedder) Dimensions() int           { return e.dimensions }
func (e *Embedder) MaxInputLength() int       { return e.maxInputLength }
func (e *Embedder) MaxBatchSize() int         { return e.maxBatchSize }

// Embed implements domain.Provider.
func (e *Embedder) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	if err := domain.ValidateRequest(e, req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = e.model
	}
	provider := string(domain.ProviderCohere)
	metrics.EmbeddingTextsTotal.WithLabelValues(provider, model, string(req.InputType)).Add(float64(len(req.Texts)))

	start := time.Now()
	resp, err := e.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Model:          model,
		Texts:          req.Texts,
		InputType:      inputType(req.InputType),
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		Truncate:       cohere.V2EmbedRequestTruncateNone.Ptr(),
	})
	duration := time.Since(start)

	var vectors [][]float32
	if err != nil {
		err = classify(err)
	} else {
		vectors, err = floatVectors(resp)
		if err == nil {
			err = domain.ValidateVectors(vectors, len(req.Texts), e.dimensions)
		}
	}
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, domain.KindOf(err).String()).Inc()
		return nil, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	e.logger.Debug("Embedding batch completed",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("batch_size", len(req.Texts)),
		zap.Duration("duration", duration),
	)
	return vectors, nil
}

// HealthCheck lists models, which costs nothing.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.Models.List(ctx, &cohere.ModelsListRequest{}); err != nil {
		return fmt.Errorf("list models: %w", classify(err))
	}
	return nil
}

func floatVectors(resp *cohere.EmbedByTypeResponse) ([][]float32, error) {
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, fmt.Errorf("response has no float embeddings: %w", domain.ErrGenerationFailed)
	}
	out := make([][]float32, len(resp.Embeddings.Float))
	for i, vec := range resp.Embeddings.Float {
		v := make([]float32, len(vec))
		for j, x := range vec {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

// classify maps SDK errors onto the provider failure taxonomy.
func classify(err error) error {
	var (
		tooMany     *cohere.TooManyRequestsError
		unauth      *cohere.UnauthorizedError
		forbidden   *cohere.ForbiddenError
		badRequest  *cohere.BadRequestError
		unavailable *cohere.ServiceUnavailableError
		gateway     *cohere.GatewayTimeoutError
		internal    *cohere.InternalServerError
		apiErr      *core.APIError
	)
	switch {
	case errors.As(err, &tooMany):
		return apiError(tooMany.APIError, domain.KindRateLimited, err)
	case errors.As(err, &unauth):
		return apiError(unauth.APIError, domain.KindUnauthorized, err)
	case errors.As(err, &forbidden):
		return apiError(forbidden.APIError, domain.KindForbidden, err)
	case errors.As(err, &badRequest):
		return apiError(badRequest.APIError, domain.KindBadRequest, err)
	case errors.As(err, &unavailable):
		return apiError(unavailable.APIError, domain.KindServiceUnavailable, err)
	case errors.As(err, &gateway):
		return apiError(gateway.APIError, domain.KindTimeout, err)
	case errors.As(err, &internal):
		return apiError(internal.APIError, domain.KindServerError, err)
	case errors.As(err, &apiErr):
		return apiError(apiErr, domain.KindFromStatus(apiErr.StatusCode), err)
	}

	kind := domain.KindOf(err)
	if kind == domain.KindGenerationFailed {
		// undecodable response body
		return fmt.Errorf("cohere embed: %v: %w", err, domain.ErrGenerationFailed)
	}
	return &domain.ProviderError{Provider: domain.ProviderCohere, Kind: kind, Err: err}
}

func apiError(api *core.APIError, kind domain.ErrorKind, err error) *domain.ProviderError {
	perr := &domain.ProviderError{Provider: domain.ProviderCohere, Kind: kind, Err: err}
	if api != nil {
		perr.Status = api.StatusCode
	}
	return perr
}

func inputType(t domain.InputType) cohere.EmbedInputType {
	if t == domain.InputQuery {
		return cohere.EmbedInputTypeSearchQuery
	}
	return cohere.EmbedInputTypeSearchDocument
}
