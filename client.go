// Package vecrag is an embeddable retrieval pipeline: documents are chunked,
// embedded through a chain of providers with fallback, stored in a vector
// store, and retrieved by query and highlighted context.
package vecrag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/app"
	"github.com/kailas-cloud/vecrag/internal/config"
	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	embeddinguc "github.com/kailas-cloud/vecrag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

// Client is the vecrag SDK entry point.
type Client struct {
	app *app.App
}

// New wires the pipeline, waits for the store and creates missing collections.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, o := range opts {
		o(cc)
	}
	logger := cc.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := cc.build()
	if err != nil {
		return nil, err
	}

	reg := app.NewRegistry(logger)
	for _, p := range cc.providers {
		if p.custom != nil {
			reg.Register(domain.ProviderKind(p.kind), customFactory(p.custom))
		}
	}

	a, err := app.New(ctx, cfg, logger, app.WithRegistry(reg))
	if err != nil {
		return nil, fmt.Errorf("vecrag: %w", err)
	}
	if err := a.EnsureCollections(ctx, false); err != nil {
		a.Close()
		return nil, fmt.Errorf("vecrag: %w", err)
	}
	return &Client{app: a}, nil
}

func (c *clientConfig) build() (config.Config, error) {
	if c.configFile != "" {
		cfg, err := config.LoadFile(c.configFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("vecrag: %w", err)
		}
		return cfg, nil
	}
	if len(c.providers) == 0 {
		return config.Config{}, errors.New("vecrag: embedding provider required (use WithProvider or WithEmbedder)")
	}
	if c.driver == "" {
		return config.Config{}, errors.New("vecrag: vector store required (use WithMemoryStore, WithQdrant or WithRedis)")
	}

	var cfg config.Config
	cfg.Embedding.Providers = make(map[string]config.ProviderConfig, len(c.providers))
	for i, p := range c.providers {
		cfg.Embedding.Providers[p.kind] = config.ProviderConfig{
			APIKey:     p.settings.APIKey,
			BaseURL:    p.settings.BaseURL,
			Model:      p.settings.Model,
			Dimensions: p.settings.Dimensions,
		}
		if i == 0 {
			cfg.Embedding.Primary = p.kind
		} else {
			cfg.Embedding.Fallback = append(cfg.Embedding.Fallback, p.kind)
		}
	}
	if c.refuse {
		cfg.Embedding.FallbackPolicy = "refuse"
	}
	cfg.Embedding.Retry.MaxAttempts = c.retries

	cfg.Store.Driver = c.driver
	cfg.Store.Collection = c.collection
	cfg.Store.Distance = c.distance
	cfg.Store.Qdrant = config.QdrantConfig{Host: c.qdrantHost, Port: c.qdrantPort, APIKey: c.qdrantKey}
	cfg.Store.Redis = config.RedisConfig{Addrs: c.redisAddrs, Password: c.redisPass}
	cfg.Retrieval.MaxResults = c.maxResults
	cfg.Chunker.MaxSize = c.chunkMaxLen

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("vecrag: invalid options: %w", err)
	}
	return cfg, nil
}

// Close releases all connections.
func (c *Client) Close() {
	if c.app != nil {
		c.app.Close()
	}
}

// Ingest chunks, embeds and stores documents one at a time.
// A failed document does not stop the others; check each result.
func (c *Client) Ingest(ctx context.Context, docs ...Document) []IngestResult {
	out := make([]IngestResult, len(docs))
	for i, d := range docs {
		out[i] = fromBatchResult(c.app.Ingest.IngestDocument(ctx, d.toDomain()))
	}
	return out
}

// IngestFiles ingests files and directories in parallel.
func (c *Client) IngestFiles(ctx context.Context, paths ...string) ([]IngestResult, error) {
	results, err := c.app.Ingest.IngestFiles(ctx, paths)
	out := make([]IngestResult, len(results))
	for i, r := range results {
		out[i] = fromBatchResult(r)
	}
	if err != nil {
		return out, fmt.Errorf("ingest files: %w", err)
	}
	return out, nil
}

// Remove deletes every chunk of a source from all collections.
func (c *Client) Remove(ctx context.Context, sourceFile string) error {
	if err := c.app.Ingest.RemoveSource(ctx, sourceFile); err != nil {
		return fmt.Errorf("remove %s: %w", sourceFile, err)
	}
	return nil
}

// Retrieve returns the chunks most relevant to query, best first.
func (c *Client) Retrieve(ctx context.Context, query string, opts *RetrieveOptions) ([]Result, error) {
	if opts == nil {
		opts = &RetrieveOptions{}
	}
	req := retrieval.Request{
		Query:      query,
		Context:    opts.Context,
		MaxResults: opts.MaxResults,
		MinScore:   opts.MinScore,
	}
	if len(opts.Match) > 0 {
		f, err := filter.Equals(opts.Match)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		req.Filter = f
	}

	results, err := c.app.Retrieval.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return fromRetrievalResults(results), nil
}

// Healthy reports whether the store and the primary provider are reachable.
// Per-component results are returned as well.
func (c *Client) Healthy(ctx context.Context) (bool, map[string]string) {
	report := c.app.Health.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for name, res := range report.Checks {
		checks[name] = string(res)
	}
	return report.Status != healthuc.Unhealthy, checks
}

func customFactory(e Embedder) embeddinguc.Factory {
	return func(spec embeddinguc.ProviderSpec) (domain.Provider, error) {
		return &embedderAdapter{inner: e, kind: spec.Kind, model: spec.Model}, nil
	}
}

// embedderAdapter wraps a public Embedder to satisfy domain.Provider.
type embedderAdapter struct {
	inner Embedder
	kind  domain.ProviderKind
	model string
}

func (a *embedderAdapter) Kind() domain.ProviderKind { return a.kind }
func (a *embedderAdapter) Model() string             { return a.model }
func (a *embedderAdapter) Dimensions() int           { return a.inner.Dimensions() }
func (a *embedderAdapter) MaxInputLength() int       { return 0 }
func (a *embedderAdapter) MaxBatchSize() int         { return 0 }

func (a *embedderAdapter) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	vectors, err := a.inner.Embed(ctx, req.Texts, req.InputType == domain.InputQuery)
	if err != nil {
		kind := domain.KindGenerationFailed
		if errors.Is(err, ErrProviderUnavailable) {
			kind = domain.KindServiceUnavailable
		}
		return nil, &domain.ProviderError{Provider: a.kind, Kind: kind, Err: err}
	}
	return vectors, nil
}
