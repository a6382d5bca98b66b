// Package app is the composition root: it turns a Config into wired services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/chunker"
	"github.com/kailas-cloud/vecrag/internal/config"
	redisdb "github.com/kailas-cloud/vecrag/internal/db/redis"
	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/metrics"
	"github.com/kailas-cloud/vecrag/internal/ratelimit"
	"github.com/kailas-cloud/vecrag/internal/repository/embcache"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore/memory"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore/qdrant"
	redisvs "github.com/kailas-cloud/vecrag/internal/repository/vectorstore/redis"
	"github.com/kailas-cloud/vecrag/internal/transport/cohere"
	openaiEmb "github.com/kailas-cloud/vecrag/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/vecrag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
	"github.com/kailas-cloud/vecrag/internal/usecase/ingest"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

// App holds the wired pipeline.
type App struct {
	Config    config.Config
	Distance  domain.DistanceMetric
	Store     *vectorstore.Store
	Embedding *embeddinguc.Service
	Ingest    *ingest.Service
	Retrieval *retrieval.Service
	Health    *healthuc.Service

	logger  *zap.Logger
	closers []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	registry *embeddinguc.Registry
	backend  vectorstore.Backend
}

// WithRegistry replaces the provider registry.
func WithRegistry(r *embeddinguc.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithBackend uses b instead of the configured store driver.
func WithBackend(b vectorstore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// NewRegistry returns a registry with the built-in provider kinds.
func NewRegistry(logger *zap.Logger) *embeddinguc.Registry {
	r := embeddinguc.NewRegistry()
	r.Register(domain.ProviderCohere, func(spec embeddinguc.ProviderSpec) (domain.Provider, error) {
		return cohere.NewEmbedder(cohere.Config{
			APIKey:         spec.APIKey,
			BaseURL:        spec.BaseURL,
			Model:          spec.Model,
			Dimensions:     spec.Dimensions,
			MaxBatchSize:   spec.MaxBatchSize,
			MaxInputLength: spec.MaxInputLength,
			Timeout:        spec.Timeout,
			Logger:         logger,
		}), nil
	})
	openaiCompatible := func(spec embeddinguc.ProviderSpec) (domain.Provider, error) {
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			Kind:           spec.Kind,
			APIKey:         spec.APIKey,
			BaseURL:        spec.BaseURL,
			Model:          spec.Model,
			Dimensions:     spec.Dimensions,
			MaxBatchSize:   spec.MaxBatchSize,
			MaxInputLength: spec.MaxInputLength,
			SendDimensions: spec.SendDimensions,
			Logger:         logger,
		}), nil
	}
	r.Register(domain.ProviderJina, openaiCompatible)
	r.Register(domain.ProviderOpenAI, openaiCompatible)
	return r
}

// New builds the pipeline from cfg. Connections are verified before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry(logger)
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Distance, err = domain.ParseDistance(cfg.Store.Distance)
	if err != nil {
		return nil, err
	}

	var cache *redisdb.Store
	if cfg.Store.Driver == "redis" || cfg.Embedding.QueryCache.Enabled {
		cache, err = a.connectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		backend, err = openBackend(cfg, cache)
		if err != nil {
			return nil, err
		}
	}
	a.Store = vectorstore.New(backend,
		vectorstore.WithBatchSize(cfg.Store.UpsertBatchSize),
		vectorstore.WithBatchDelay(time.Duration(cfg.Store.UpsertDelayMs)*time.Millisecond),
		vectorstore.WithTimeout(time.Duration(cfg.Store.TimeoutSec)*time.Second),
		vectorstore.WithLogger(logger),
	)
	a.closers = append(a.closers, func() {
		if err := a.Store.Close(); err != nil {
			logger.Warn("Failed to close vector store", zap.Error(err))
		}
	})
	if err := waitForStore(ctx, a.Store, time.Duration(cfg.Store.ReadinessTimeoutSec)*time.Second); err != nil {
		return nil, err
	}

	a.Embedding, err = buildEmbedding(cfg, o.registry, logger)
	if err != nil {
		return nil, err
	}

	var queryEmbedder retrieval.Embedder = a.Embedding
	healthOpts := []healthuc.Option{}
	if cfg.Embedding.QueryCache.Enabled {
		queryEmbedder = embcache.New(a.Embedding, cache, cfg.Store.Redis.KeyPrefix,
			time.Duration(cfg.Embedding.QueryCache.TTLSec)*time.Second, metrics.QueryCacheTotal, logger)
		healthOpts = append(healthOpts, healthuc.WithCheck("query_cache", cache.Ping))
	}

	a.Retrieval = retrieval.New(queryEmbedder, a.Store,
		retrieval.WithDefaults(cfg.Retrieval.MaxResults, cfg.Retrieval.MinScore),
		retrieval.WithLogger(logger),
	)

	ch := chunker.New(
		chunker.WithMaxSize(cfg.Chunker.MaxSize),
		chunker.WithOverlapRatio(cfg.Chunker.OverlapRatio),
		chunker.WithMinSize(cfg.Chunker.MinSize),
		chunker.WithHeadingSize(cfg.Chunker.HeadingSize),
	)
	a.Ingest = ingest.New(ch, a.Embedding, a.Store,
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLoader(ingest.NewLoader(cfg.Ingest.Extensions...)),
		ingest.WithLogger(logger),
	)

	a.Health = healthuc.New(a.Store, a.Embedding, healthOpts...)

	bindings := a.Embedding.Bindings()
	for _, b := range bindings {
		logger.Info("Embedding provider bound",
			zap.String("provider", string(b.Kind)),
			zap.String("model", b.Model),
			zap.Int("dimensions", b.Dimensions),
			zap.String("collection", b.Collection),
		)
	}
	return a, nil
}

// EnsureCollections creates the collection of every provider binding.
func (a *App) EnsureCollections(ctx context.Context, recreate bool) error {
	return a.Ingest.EnsureCollections(ctx, a.Distance, recreate)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) connectRedis(ctx context.Context, cfg config.Config) (*redisdb.Store, error) {
	s, err := redisdb.NewStore(redisdb.Config{
		Addrs:    cfg.Store.Redis.Addrs,
		Username: cfg.Store.Redis.Username,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis store: %w", err)
	}
	// the redis vector backend owns the connection when it uses it
	if cfg.Store.Driver != "redis" {
		a.closers = append(a.closers, s.Close)
	}
	if err := s.WaitForReady(ctx, time.Duration(cfg.Store.ReadinessTimeoutSec)*time.Second); err != nil {
		if cfg.Store.Driver == "redis" {
			s.Close()
		}
		return nil, fmt.Errorf("redis not ready: %w", err)
	}
	a.logger.Info("Connected to redis", zap.Strings("addrs", cfg.Store.Redis.Addrs))
	return s, nil
}

func openBackend(cfg config.Config, rs *redisdb.Store) (vectorstore.Backend, error) {
	switch cfg.Store.Driver {
	case "qdrant":
		b, err := qdrant.New(qdrant.Config{
			Host:   cfg.Store.Qdrant.Host,
			Port:   cfg.Store.Qdrant.Port,
			APIKey: cfg.Store.Qdrant.APIKey,
			UseTLS: cfg.Store.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant backend: %w", err)
		}
		return b, nil
	case "redis":
		var opts []redisvs.Option
		if cfg.Store.Redis.IndexAlgorithm == "flat" {
			opts = append(opts, redisvs.WithFlatIndex())
		}
		return redisvs.New(rs, cfg.Store.Redis.KeyPrefix, opts...), nil
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func buildEmbedding(cfg config.Config, reg *embeddinguc.Registry, logger *zap.Logger) (*embeddinguc.Service, error) {
	var (
		providers []domain.Provider
		timeout   time.Duration
	)
	for _, name := range cfg.Embedding.Chain() {
		pc := cfg.Embedding.Providers[name]
		p, err := reg.Build(embeddinguc.ProviderSpec{
			Kind:           domain.ProviderKind(name),
			APIKey:         pc.APIKey,
			BaseURL:        pc.BaseURL,
			Model:          pc.Model,
			Dimensions:     pc.Dimensions,
			MaxBatchSize:   pc.MaxBatchSize,
			MaxInputLength: pc.MaxInputLength,
			Timeout:        pc.Timeout(),
			SendDimensions: pc.SendDimensions,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
		timeout = max(timeout, pc.Timeout())
	}

	opts := []embeddinguc.Option{
		embeddinguc.WithLimiter(ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())),
		embeddinguc.WithRetryPolicy(embeddinguc.RetryPolicy{
			MaxAttempts: cfg.Embedding.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Embedding.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Embedding.Retry.MaxDelayMs) * time.Millisecond,
		}),
		embeddinguc.WithFallbackPolicy(embeddinguc.FallbackPolicy(cfg.Embedding.FallbackPolicy)),
		embeddinguc.WithCallTimeout(timeout),
		embeddinguc.WithLogger(logger),
	}
	for _, p := range providers[1:] {
		opts = append(opts, embeddinguc.WithFallback(p))
	}

	svc, err := embeddinguc.New(providers[0], cfg.Store.Collection, opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding service: %w", err)
	}
	return svc, nil
}

// waitForStore polls Ping until the store answers or timeout expires.
func waitForStore(ctx context.Context, s *vectorstore.Store, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("vector store %s not ready: %w", s.Backend(), errors.Join(lastErr, ctx.Err()))
		case <-time.After(200 * time.Millisecond):
		}
	}
}
