package vecrag

import (
	"context"

	"go.uber.org/zap"
)

// Embedder is a custom embedding model plugged in with WithEmbedder.
// Embed returns one vector of Dimensions() floats per text, in input order.
// query is true when the texts are search queries rather than stored passages.
type Embedder interface {
	Embed(ctx context.Context, texts []string, query bool) ([][]float32, error)
	Dimensions() int
}

// ProviderSettings configures a built-in embedding provider.
type ProviderSettings struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Option configures a Client.
type Option func(*clientConfig)

type providerEntry struct {
	kind     string
	settings ProviderSettings
	custom   Embedder
}

type clientConfig struct {
	configFile string
	providers  []providerEntry
	refuse     bool
	retries    int

	driver      string
	qdrantHost  string
	qdrantPort  int
	qdrantKey   string
	redisAddrs  []string
	redisPass   string
	collection  string
	distance    string
	maxResults  int
	chunkMaxLen int

	logger *zap.Logger
}

// WithConfigFile loads the whole configuration from a YAML file.
// Store and provider options are ignored; WithEmbedder and WithLogger still apply.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) { c.configFile = path }
}

// WithProvider appends a built-in provider (cohere, jina or openai) to the chain.
// The first provider is the primary, later ones are fallbacks.
func WithProvider(kind string, s ProviderSettings) Option {
	return func(c *clientConfig) {
		c.providers = append(c.providers, providerEntry{kind: kind, settings: s})
	}
}

// WithEmbedder appends a custom embedder to the chain under the given provider kind.
func WithEmbedder(kind, model string, e Embedder) Option {
	return func(c *clientConfig) {
		c.providers = append(c.providers, providerEntry{
			kind:     kind,
			settings: ProviderSettings{Model: model, Dimensions: e.Dimensions()},
			custom:   e,
		})
	}
}

// WithoutFallback makes a failing primary provider an error instead of routing to fallbacks.
func WithoutFallback() Option {
	return func(c *clientConfig) { c.refuse = true }
}

// WithRetry sets how many times a provider call is attempted before giving up on that provider.
func WithRetry(maxAttempts int) Option {
	return func(c *clientConfig) { c.retries = maxAttempts }
}

// WithMemoryStore keeps vectors in process memory. Nothing is persisted.
func WithMemoryStore() Option {
	return func(c *clientConfig) { c.driver = "memory" }
}

// WithQdrant stores vectors in Qdrant over gRPC.
func WithQdrant(host string, port int, apiKey string) Option {
	return func(c *clientConfig) {
		c.driver = "qdrant"
		c.qdrantHost = host
		c.qdrantPort = port
		c.qdrantKey = apiKey
	}
}

// WithRedis stores vectors in Redis with the search module.
func WithRedis(password string, addrs ...string) Option {
	return func(c *clientConfig) {
		c.driver = "redis"
		c.redisAddrs = addrs
		c.redisPass = password
	}
}

// WithCollection sets the primary collection name.
func WithCollection(name string) Option {
	return func(c *clientConfig) { c.collection = name }
}

// WithDistance sets the distance metric (cosine, dot or euclid) for new collections.
func WithDistance(d string) Option {
	return func(c *clientConfig) { c.distance = d }
}

// WithMaxResults sets the default number of retrieval results.
func WithMaxResults(n int) Option {
	return func(c *clientConfig) { c.maxResults = n }
}

// WithChunkSize sets the maximum chunk length in bytes.
func WithChunkSize(n int) Option {
	return func(c *clientConfig) { c.chunkMaxLen = n }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
