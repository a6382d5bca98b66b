// Package health aggregates component checks for the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable; retrieval cannot work.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	ComponentStore     = "vector_store"
	ComponentEmbedding = "embedding"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type check struct {
	name     string
	fn       func(ctx context.Context) error
	critical bool
}

// Service coordinates health checks.
type Service struct {
	checks  []check
	timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCheck adds a non-critical named check, such as the query cache.
func WithCheck(name string, fn func(ctx context.Context) error) Option {
	return func(s *Service) {
		s.checks = append(s.checks, check{name: name, fn: fn})
	}
}

// WithTimeout sets the per-check deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Service. embedding can be nil.
func New(store StorePinger, embedding EmbeddingChecker, opts ...Option) *Service {
	s := &Service{
		checks:  []check{{name: ComponentStore, fn: store.Ping, critical: true}},
		timeout: DefaultCheckTimeout,
	}
	if embedding != nil {
		s.checks = append(s.checks, check{name: ComponentEmbedding, fn: embedding.HealthCheck})
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check runs all component checks concurrently.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(s.checks))
	var wg sync.WaitGroup
	for i, c := range s.checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = CheckOK
			if err := c.fn(cctx); err != nil {
				results[i] = CheckError
			}
		})
	}
	wg.Wait()

	report := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.checks))}
	for i, c := range s.checks {
		report.Checks[c.name] = results[i]
		if results[i] != CheckError {
			continue
		}
		if c.critical {
			report.Status = Unhealthy
		} else if report.Status == Healthy {
			report.Status = Degraded
		}
	}
	return report
}
