// Package ratelimit provides a client-side sliding-window admission gate for
// outbound provider calls. It does not coordinate across processes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// Limiter admits at most maxRequests calls within any trailing window.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu    sync.Mutex
	calls []time.Time // admitted call times, oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. maxRequests <= 0 disables limiting.
func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Wait blocks until a call may proceed and records it.
// Returns the context error if ctx ends while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.maxRequests <= 0 || l.window <= 0 {
		return nil
	}

	start := l.now()
	defer func() {
		metrics.RateLimitWaitSeconds.Observe(l.now().Sub(start).Seconds())
	}()

	for {
		d := l.reserve()
		if d <= 0 {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return fmt.Errorf("wait for rate limit: %w", err)
		}
	}
}

// reserve records a call and returns 0 when a slot is free, otherwise it
// returns how long until the oldest call leaves the window.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]

	if len(l.calls) < l.maxRequests {
		l.calls = append(l.calls, now)
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
