package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the vecrag configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// ChunkerConfig holds text splitting settings.
type ChunkerConfig struct {
	MaxSize      int     `yaml:"max_size"`
	OverlapRatio float64 `yaml:"overlap_ratio"`
	MinSize      int     `yaml:"min_size"`
	HeadingSize  int     `yaml:"heading_size"`
}

// RateLimitConfig bounds outbound embedding calls. max_requests 0 disables the limiter.
type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests"`
	WindowSec   int `yaml:"window_sec"`
}

// Window returns the sliding window length.
func (r RateLimitConfig) Window() time.Duration { return time.Duration(r.WindowSec) * time.Second }

// EmbeddingConfig holds provider settings and the fallback chain.
type EmbeddingConfig struct {
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Primary        string                    `yaml:"primary"`
	Fallback       []string                  `yaml:"fallback"`
	FallbackPolicy string                    `yaml:"fallback_policy"` // route | refuse
	Retry          RetryConfig               `yaml:"retry"`
	QueryCache     QueryCacheConfig          `yaml:"query_cache"`
}

// Chain returns the primary followed by the fallbacks, in call order.
func (e EmbeddingConfig) Chain() []string {
	return append([]string{e.Primary}, e.Fallback...)
}

// ProviderConfig holds one embedding provider.
type ProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	MaxBatchSize   int    `yaml:"max_batch_size"`
	MaxInputLength int    `yaml:"max_input_length"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	// SendDimensions passes dimensions to the API so it shortens vectors (openai only).
	SendDimensions bool `yaml:"send_dimensions"`
}

// Timeout returns the per-call provider timeout.
func (p ProviderConfig) Timeout() time.Duration { return time.Duration(p.TimeoutSec) * time.Second }

// RetryConfig holds the transient-failure retry policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// QueryCacheConfig holds the query embedding cache settings. The cache lives in store.redis.
type QueryCacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	Driver              string       `yaml:"driver"` // qdrant, redis, memory
	Collection          string       `yaml:"collection"`
	Distance            string       `yaml:"distance"` // cosine, dot, euclid
	Qdrant              QdrantConfig `yaml:"qdrant"`
	Redis               RedisConfig  `yaml:"redis"`
	UpsertBatchSize     int          `yaml:"upsert_batch_size"`
	UpsertDelayMs       int          `yaml:"upsert_delay_ms"`
	TimeoutSec          int          `yaml:"timeout_sec"`
	ReadinessTimeoutSec int          `yaml:"readiness_timeout_sec"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
	// IndexAlgorithm is hnsw (default) or flat for exact search.
	IndexAlgorithm string `yaml:"index_algorithm"`
}

// IngestConfig holds file ingestion settings.
type IngestConfig struct {
	Workers    int      `yaml:"workers"`
	Extensions []string `yaml:"extensions"`
	DebounceMs int      `yaml:"debounce_ms"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	MaxResults int     `yaml:"max_results"`
	MinScore   float64 `yaml:"min_score"`
}

// Known values.
var (
	providerKinds   = []string{"cohere", "jina", "openai"}
	storeDrivers    = []string{"qdrant", "redis", "memory"}
	distances       = []string{"cosine", "dot", "euclid"}
	fallbackModes   = []string{"route", "refuse"}
	logLevels       = []string{"", "debug", "info", "warn", "error"}
	collectionRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands env variables, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Chunker.MaxSize <= 0 {
		c.Chunker.MaxSize = 1000
	}
	if c.Chunker.OverlapRatio == 0 {
		c.Chunker.OverlapRatio = 0.1
	}
	if c.Chunker.MinSize <= 0 {
		c.Chunker.MinSize = 50
	}
	if c.Chunker.HeadingSize <= 0 {
		c.Chunker.HeadingSize = 100
	}

	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}

	if c.Embedding.FallbackPolicy == "" {
		c.Embedding.FallbackPolicy = "route"
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 4
	}
	if c.Embedding.Retry.BaseDelayMs <= 0 {
		c.Embedding.Retry.BaseDelayMs = 500
	}
	if c.Embedding.Retry.MaxDelayMs <= 0 {
		c.Embedding.Retry.MaxDelayMs = 20_000
	}
	if c.Embedding.QueryCache.TTLSec <= 0 {
		c.Embedding.QueryCache.TTLSec = 24 * 60 * 60
	}
	for name, p := range c.Embedding.Providers {
		if p.TimeoutSec <= 0 {
			p.TimeoutSec = 30
		}
		c.Embedding.Providers[name] = p
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "qdrant"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "documents"
	}
	if c.Store.Distance == "" {
		c.Store.Distance = "cosine"
	}
	if c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = 6334
	}
	if c.Store.Redis.IndexAlgorithm == "" {
		c.Store.Redis.IndexAlgorithm = "hnsw"
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "vecrag:"
	}
	if c.Store.UpsertBatchSize <= 0 {
		c.Store.UpsertBatchSize = 100
	}
	if c.Store.UpsertDelayMs < 0 {
		c.Store.UpsertDelayMs = 0
	}
	if c.Store.TimeoutSec <= 0 {
		c.Store.TimeoutSec = 10
	}
	if c.Store.ReadinessTimeoutSec <= 0 {
		c.Store.ReadinessTimeoutSec = 10
	}

	if len(c.Ingest.Extensions) == 0 {
		c.Ingest.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if c.Ingest.DebounceMs <= 0 {
		c.Ingest.DebounceMs = 500
	}

	if c.Retrieval.MaxResults <= 0 {
		c.Retrieval.MaxResults = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if err := c.Chunker.validate(); err != nil {
		return err
	}
	if c.RateLimit.MaxRequests < 0 {
		return errors.New("rate_limit.max_requests must not be negative")
	}
	if err := c.Embedding.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if c.Embedding.QueryCache.Enabled && len(c.Store.Redis.Addrs) == 0 {
		return errors.New("embedding.query_cache requires store.redis.addrs")
	}
	if c.Ingest.Workers < 0 {
		return errors.New("ingest.workers must not be negative")
	}
	if c.Retrieval.MaxResults > 100 {
		return fmt.Errorf("retrieval.max_results must be at most 100, got %d", c.Retrieval.MaxResults)
	}
	if c.Retrieval.MinScore < 0 {
		return fmt.Errorf("retrieval.min_score must not be negative, got %v", c.Retrieval.MinScore)
	}
	return nil
}

func (c ChunkerConfig) validate() error {
	if c.OverlapRatio < 0 || c.OverlapRatio >= 0.5 {
		return fmt.Errorf("chunker.overlap_ratio must be in [0, 0.5), got %v", c.OverlapRatio)
	}
	if c.MinSize >= c.MaxSize {
		return fmt.Errorf("chunker.min_size %d must be below max_size %d", c.MinSize, c.MaxSize)
	}
	return nil
}

func (e EmbeddingConfig) validate() error {
	if e.Primary == "" {
		return errors.New("embedding.primary is required")
	}
	if !slices.Contains(fallbackModes, e.FallbackPolicy) {
		return fmt.Errorf("embedding.fallback_policy must be \"route\" or \"refuse\", got %q", e.FallbackPolicy)
	}

	seen := make(map[string]bool)
	for _, name := range e.Chain() {
		if seen[name] {
			return fmt.Errorf("embedding provider %q listed twice", name)
		}
		seen[name] = true

		if !slices.Contains(providerKinds, name) {
			return fmt.Errorf("embedding provider %q: kind must be one of %s", name, strings.Join(providerKinds, ", "))
		}
		p, ok := e.Providers[name]
		if !ok {
			return fmt.Errorf("embedding.providers.%s is not configured", name)
		}
		if p.Model == "" {
			return fmt.Errorf("embedding.providers.%s.model is required", name)
		}
		if p.Dimensions <= 0 {
			return fmt.Errorf("embedding.providers.%s.dimensions must be positive", name)
		}
		if p.MaxBatchSize < 0 || p.MaxInputLength < 0 {
			return fmt.Errorf("embedding.providers.%s: limits must not be negative", name)
		}
		if p.SendDimensions && name != "openai" {
			return fmt.Errorf("embedding.providers.%s.send_dimensions is only supported by openai", name)
		}
	}
	return nil
}

func (s StoreConfig) validate() error {
	if !slices.Contains(storeDrivers, s.Driver) {
		return fmt.Errorf("store.driver must be one of %s, got %q", strings.Join(storeDrivers, ", "), s.Driver)
	}
	if !collectionRegex.MatchString(s.Collection) {
		return fmt.Errorf("store.collection %q must match %s", s.Collection, collectionRegex)
	}
	if !slices.Contains(distances, s.Distance) {
		return fmt.Errorf("store.distance must be one of %s, got %q", strings.Join(distances, ", "), s.Distance)
	}
	switch s.Driver {
	case "qdrant":
		if s.Qdrant.Host == "" {
			return errors.New("store.qdrant.host is required")
		}
	case "redis":
		if len(s.Redis.Addrs) == 0 {
			return errors.New("store.redis.addrs is required")
		}
		if s.Redis.IndexAlgorithm != "hnsw" && s.Redis.IndexAlgorithm != "flat" {
			return fmt.Errorf("store.redis.index_algorithm must be hnsw or flat, got %q", s.Redis.IndexAlgorithm)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
