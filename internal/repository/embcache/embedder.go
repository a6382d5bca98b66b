// Package embcache caches live query embeddings in a key-value store.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/db"
	"github.com/kailas-cloud/vecrag/internal/domain"
)

// DefaultTTL bounds how long a cached query vector is reused.
const DefaultTTL = 24 * time.Hour

const keySegment = "qcache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// QueryEmbedder is the embedding service as seen by the cache.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) (domain.QueryVector, error)
	Primary() domain.Binding
}

// CachedEmbedder caches query vectors of the primary provider.
// Vectors produced by a fallback provider are passed through uncached.
type CachedEmbedder struct {
	inner      QueryEmbedder
	store      store
	prefix     string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner QueryEmbedder,
	s store,
	keyPrefix string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		prefix:     keyPrefix + keySegment,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Primary implements QueryEmbedder.
func (c *CachedEmbedder) Primary() domain.Binding { return c.inner.Primary() }

// EmbedOne returns a cached query vector or calls the inner embedder.
func (c *CachedEmbedder) EmbedOne(ctx context.Context, text string) (domain.QueryVector, error) {
	primary := c.inner.Primary()
	key := c.cacheKey(primary, text)

	if vec, ok := c.getFromCache(ctx, key, primary.Dimensions); ok {
		c.incCache("hit")
		return domain.QueryVector{
			Vector:     vec,
			Model:      primary.Model,
			Provider:   primary.Kind,
			Collection: primary.Collection,
		}, nil
	}

	c.incCache("miss")

	qv, err := c.inner.EmbedOne(ctx, text)
	if err != nil {
		return domain.QueryVector{}, fmt.Errorf("embed query: %w", err)
	}

	if qv.Provider == primary.Kind && qv.Collection == primary.Collection {
		c.putToCache(ctx, key, qv.Vector)
	}
	return qv, nil
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes provider, model and text. A model change never reuses old vectors.
func (c *CachedEmbedder) cacheKey(b domain.Binding, text string) string {
	h := sha256.New()
	h.Write([]byte(b.Kind))
	h.Write([]byte{0})
	h.Write([]byte(b.Model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string, dims int) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if dims > 0 && len(vec) != dims {
		c.logger.Warn("Cached embedding has wrong size, ignoring",
			zap.String("key", key),
			zap.Int("expected", dims),
			zap.Int("actual", len(vec)),
		)
		return nil, false
	}

	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	data := vectorToCacheBytes(vec)
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
