package embedding

import (
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

// ProviderSpec is the configuration handed to a provider factory.
type ProviderSpec struct {
	Kind           domain.ProviderKind
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	MaxBatchSize   int
	MaxInputLength int
	Timeout        time.Duration
	SendDimensions bool
}

// Factory builds a provider from its spec.
type Factory func(spec ProviderSpec) (domain.Provider, error)

// Registry resolves provider kinds to factories. Providers are built once at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.ProviderKind]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.ProviderKind]Factory)}
}

// Register binds a factory to a kind, replacing any previous one.
func (r *Registry) Register(kind domain.ProviderKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build creates the provider for spec.Kind and checks it declares the configured size.
func (r *Registry) Build(spec ProviderSpec) (domain.Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider %q", spec.Kind)
	}
	if spec.Dimensions <= 0 {
		return nil, fmt.Errorf("provider %q: dimensions must be positive", spec.Kind)
	}

	p, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("build provider %q: %w", spec.Kind, err)
	}
	if p.Dimensions() != spec.Dimensions {
		return nil, fmt.Errorf("provider %q: %w",
			spec.Kind, &domain.DimensionMismatchError{Expected: spec.Dimensions, Actual: p.Dimensions()})
	}
	return p, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []domain.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderKind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}
