// Package embedding turns chunks and live queries into vectors.
//
// The Service batches inputs to the provider's limit, passes every call
// through a rate limiter, retries transient failures with capped
// exponential backoff, and falls back to the next provider on outage.
// Each provider writes to its own collection so vectors from different
// models are never mixed.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// FallbackPolicy controls what happens when the primary provider is unavailable.
type FallbackPolicy string

// Fallback policies.
const (
	// FallbackRoute embeds with the next provider and writes to its own collection.
	FallbackRoute FallbackPolicy = "route"
	// FallbackRefuse fails with ErrFallbackRefused instead of switching providers.
	FallbackRefuse FallbackPolicy = "refuse"
)

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 30 * time.Second

// CollectionFor names the collection a provider's vectors live in.
// The primary provider owns base; fallbacks get a suffixed collection.
func CollectionFor(base string, kind domain.ProviderKind, primary bool) string {
	if primary {
		return base
	}
	return base + "__" + string(kind)
}

type route struct {
	provider domain.Provider
	binding  domain.Binding
}

// Service orchestrates rate-limited, batched, retried embedding with provider fallback.
type Service struct {
	routes  []route
	limiter Limiter
	retry   RetryPolicy
	policy  FallbackPolicy
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFallback appends a fallback provider. Order of calls is priority order.
func WithFallback(p domain.Provider) Option {
	return func(s *Service) {
		s.routes = append(s.routes, route{provider: p})
	}
}

// WithLimiter sets the rate limiter shared by all calls of this service.
func WithLimiter(l Limiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithFallbackPolicy sets the fallback policy.
func WithFallbackPolicy(p FallbackPolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithCallTimeout bounds each provider call. Zero disables the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service with primary writing to collection.
func New(primary domain.Provider, collection string, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, errors.New("primary provider is required")
	}
	if collection == "" {
		return nil, errors.New("collection is required")
	}

	s := &Service{
		routes:  []route{{provider: primary}},
		limiter: noLimit{},
		retry:   DefaultRetryPolicy(),
		policy:  FallbackRoute,
		timeout: DefaultCallTimeout,
		sleep:   sleepCtx,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	seen := make(map[domain.ProviderKind]bool, len(s.routes))
	for i := range s.routes {
		p := s.routes[i].provider
		if seen[p.Kind()] {
			return nil, fmt.Errorf("provider %q configured twice", p.Kind())
		}
		seen[p.Kind()] = true
		if p.Dimensions() <= 0 {
			return nil, fmt.Errorf("provider %q: dimensions must be declared", p.Kind())
		}
		s.routes[i].binding = domain.Binding{
			Kind:       p.Kind(),
			Model:      p.Model(),
			Dimensions: p.Dimensions(),
			Collection: CollectionFor(collection, p.Kind(), i == 0),
		}
	}
	return s, nil
}

// Primary returns the binding of the primary provider.
func (s *Service) Primary() domain.Binding { return s.routes[0].binding }

// Bindings returns every provider binding in priority order.
func (s *Service) Bindings() []domain.Binding {
	out := make([]domain.Binding, len(s.routes))
	for i, r := range s.routes {
		out[i] = r.binding
	}
	return out
}

// EmbedChunks embeds chunks in order, one vector per chunk.
// All vectors of one call come from the same provider.
func (s *Service) EmbedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text()
	}

	vectors, r, err := s.withFallback(ctx, func(r route) ([][]float32, error) {
		return s.embedAll(ctx, r, texts, domain.InputDocument)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.EmbeddingVector, len(chunks))
	for i, c := range chunks {
		out[i] = domain.NewEmbeddingVector(c, vectors[i], r.binding)
	}
	return out, nil
}

// EmbedOne embeds a live query. The returned vector names the collection to search.
func (s *Service) EmbedOne(ctx context.Context, text string) (domain.QueryVector, error) {
	vectors, r, err := s.withFallback(ctx, func(r route) ([][]float32, error) {
		return s.embedAll(ctx, r, []string{text}, domain.InputQuery)
	})
	if err != nil {
		return domain.QueryVector{}, err
	}
	return domain.QueryVector{
		Vector:     vectors[0],
		Model:      r.binding.Model,
		Provider:   r.binding.Kind,
		Collection: r.binding.Collection,
	}, nil
}

// HealthCheck probes the primary provider when it supports health checks.
func (s *Service) HealthCheck(ctx context.Context) error {
	hc, ok := s.routes[0].provider.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health: %w", s.routes[0].binding.Kind, err)
	}
	return nil
}

// withFallback runs fn against each route until one succeeds or a failure is not an outage.
func (s *Service) withFallback(
	ctx context.Context, fn func(r route) ([][]float32, error),
) ([][]float32, route, error) {
	var lastErr error
	for i, r := range s.routes {
		vectors, err := fn(r)
		if err == nil {
			return vectors, r, nil
		}
		lastErr = err

		if ctx.Err() != nil || !domain.KindOf(err).Transient() {
			return nil, route{}, err
		}
		if i+1 == len(s.routes) {
			break
		}
		if s.policy == FallbackRefuse {
			s.logger.Error("Primary provider unavailable, fallback refused",
				zap.String("provider", string(r.binding.Kind)),
				zap.Error(err),
			)
			return nil, route{}, fmt.Errorf("%w: %w", domain.ErrFallbackRefused, err)
		}

		next := s.routes[i+1].binding
		metrics.EmbeddingFallbacksTotal.WithLabelValues(string(r.binding.Kind), string(next.Kind)).Inc()
		s.logger.Warn("Provider unavailable, falling back",
			zap.String("provider", string(r.binding.Kind)),
			zap.String("fallback", string(next.Kind)),
			zap.String("collection", next.Collection),
			zap.Error(err),
		)
	}
	return nil, route{}, fmt.Errorf("all embedding providers failed: %w", lastErr)
}

// embedAll splits texts into provider-sized batches and embeds them sequentially.
func (s *Service) embedAll(
	ctx context.Context, r route, texts []string, inputType domain.InputType,
) ([][]float32, error) {
	size := r.provider.MaxBatchSize()
	if size <= 0 {
		size = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += size {
		end := min(offset+size, len(texts))
		batch := texts[offset:end]

		vectors, err := s.embedBatch(ctx, r, domain.EmbedRequest{
			Texts:     batch,
			Model:     r.binding.Model,
			InputType: inputType,
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch at offset %d: %w", offset, err)
		}
		out = append(out, vectors...)

		s.logger.Debug("Embedded batch",
			zap.String("provider", string(r.binding.Kind)),
			zap.Int("offset", offset),
			zap.Int("batch_size", len(batch)),
		)
	}
	return out, nil
}

// embedBatch makes one rate-limited provider call, retrying transient failures.
func (s *Service) embedBatch(ctx context.Context, r route, req domain.EmbedRequest) ([][]float32, error) {
	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vectors, err := s.call(ctx, r, req)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed canceled: %w", ctx.Err())
		}

		kind := domain.KindOf(err)
		if !s.retry.ShouldRetry(err, attempt) {
			if kind.Transient() {
				s.logger.Error("Embedding failed after retries",
					zap.String("provider", string(r.binding.Kind)),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			}
			return nil, err
		}

		delay := s.retry.Backoff(attempt)
		metrics.EmbeddingRetriesTotal.WithLabelValues(string(r.binding.Kind), kind.String()).Inc()
		s.logger.Warn("Transient embedding failure, retrying",
			zap.String("provider", string(r.binding.Kind)),
			zap.String("error_type", kind.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("embed canceled: %w", err)
		}
	}
}

func (s *Service) call(ctx context.Context, r route, req domain.EmbedRequest) ([][]float32, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vectors, err := r.provider.Embed(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.binding.Kind, err)
	}
	if err := domain.ValidateVectors(vectors, len(req.Texts), r.binding.Dimensions); err != nil {
		return nil, fmt.Errorf("%s: %w", r.binding.Kind, err)
	}
	return vectors, nil
}
