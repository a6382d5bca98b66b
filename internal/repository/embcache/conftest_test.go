package embcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/db"
	"github.com/kailas-cloud/vecrag/internal/domain"
)

var primaryBinding = domain.Binding{
	Kind:       domain.ProviderCohere,
	Model:      "embed-english-v3.0",
	Dimensions: 3,
	Collection: "docs",
}

type mockEmbedder struct {
	result domain.QueryVector
	err    error
	calls  int
}

func (m *mockEmbedder) EmbedOne(_ context.Context, _ string) (domain.QueryVector, error) {
	m.calls++
	return m.result, m.err
}

func (m *mockEmbedder) Primary() domain.Binding { return primaryBinding }

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func primaryResult(vec ...float32) domain.QueryVector {
	return domain.QueryVector{
		Vector:     vec,
		Model:      primaryBinding.Model,
		Provider:   primaryBinding.Kind,
		Collection: primaryBinding.Collection,
	}
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, ms, "vecrag:", time.Hour, nil, zap.NewNop())
	return ce, ms
}
