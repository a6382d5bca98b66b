// Package vectorstore owns named, dimensionality-bound vector collections.
//
// Store wraps a driver (Backend). An unreachable store skips upsert batches
// but fails searches.
package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// Defaults for upsert batching and per-call deadlines.
const (
	DefaultBatchSize  = 100
	DefaultBatchDelay = 50 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
)

// Backend is a vector database driver. Scores returned by Search are
// similarities: higher means closer, whatever the distance metric.
//
//nolint:interfacebloat // driver contract mirrors the collection lifecycle
type Backend interface {
	Name() string
	CreateCollection(ctx context.Context, name string, dims int, distance domain.DistanceMetric) error
	DeleteCollection(ctx context.Context, name string) error
	// CollectionInfo returns domain.ErrCollectionNotFound for unknown names.
	CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error)
	Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) error
	Search(ctx context.Context, name string, q SearchQuery) ([]domain.RetrievalResult, error)
	DeleteByFilter(ctx context.Context, name string, f filter.Expression) error
	Ping(ctx context.Context) error
	Close() error
}

// SearchQuery is a similarity search against one collection.
type SearchQuery struct {
	Vector         []float32
	Limit          int
	ScoreThreshold float64
	Filter         filter.Expression
	// Distance is filled by Store from the collection info.
	Distance domain.DistanceMetric
}

// UpsertReport tells how many vectors were written and how many were
// dropped because the store could not be reached.
type UpsertReport struct {
	Upserted int
	Skipped  int
}

// Partial reports whether some vectors were not written.
func (r UpsertReport) Partial() bool { return r.Skipped > 0 }

// Store applies batching, dimension checks and failure policy on top of a Backend.
type Store struct {
	backend    Backend
	batchSize  int
	batchDelay time.Duration
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger

	mu    sync.RWMutex
	infos map[string]domain.CollectionInfo
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets the number of vectors per backend upsert call.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between consecutive upsert batches.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.batchDelay = d
		}
	}
}

// WithTimeout sets the deadline applied to every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store over the given backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:    b,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		timeout:    DefaultTimeout,
		sleep:      sleepCtx,
		logger:     zap.NewNop(),
		infos:      make(map[string]domain.CollectionInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the driver name.
func (s *Store) Backend() string { return s.backend.Name() }

// CreateCollection makes sure the collection exists with the given size.
// An existing collection is kept unless recreate is set; its size must match.
func (s *Store) CreateCollection(
	ctx context.Context, name string, dims int, distance domain.DistanceMetric, recreate bool,
) (err error) {
	defer s.observe("create_collection", time.Now(), &err)

	if name == "" {
		return errors.New("collection name is required")
	}
	if dims <= 0 {
		return fmt.Errorf("collection %s: dimensions must be positive, got %d", name, dims)
	}
	if distance == "" {
		distance = domain.DistanceCosine
	}

	info, err := s.fetchInfo(ctx, name)
	switch {
	case err == nil && !recreate:
		if err := info.CheckDimensions(dims); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if info.Distance != "" && info.Distance != distance {
			s.logger.Warn("Collection exists with a different distance metric",
				zap.String("collection", name),
				zap.String("existing", string(info.Distance)),
				zap.String("requested", string(distance)),
			)
		}
		return nil
	case err == nil && recreate:
		if err := s.call(ctx, func(ctx context.Context) error {
			return s.backend.DeleteCollection(ctx, name)
		}); err != nil {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
		s.forget(name)
		s.logger.Info("Collection dropped for recreation", zap.String("collection", name))
	case !errors.Is(err, domain.ErrCollectionNotFound):
		return err
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.CreateCollection(ctx, name, dims, distance)
	}); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.remember(domain.CollectionInfo{Name: name, Dimensions: dims, Distance: distance})

	s.logger.Info("Collection created",
		zap.String("collection", name),
		zap.Int("dimensions", dims),
		zap.String("distance", string(distance)),
	)
	return nil
}

// DropCollection deletes a collection and all of its vectors.
func (s *Store) DropCollection(ctx context.Context, name string) (err error) {
	defer s.observe("drop_collection", time.Now(), &err)

	err = s.call(ctx, func(ctx context.Context) error {
		return s.backend.DeleteCollection(ctx, name)
	})
	s.forget(name)
	if err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// CollectionInfo reads the current collection state from the backend.
func (s *Store) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	return s.fetchInfo(ctx, name)
}

// Upsert writes vectors in batches. Writing the same ids again replaces them.
//
// A vector whose size differs from the collection is a hard error and nothing
// is written. Batches that fail because the store is unreachable are skipped
// and counted in the report; any other failure stops the run.
func (s *Store) Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) (UpsertReport, error) {
	var report UpsertReport
	if len(vectors) == 0 {
		return report, nil
	}

	info, err := s.info(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			s.skip(name, len(vectors), 0, err)
			report.Skipped = len(vectors)
			return report, nil
		}
		return report, err
	}
	for _, v := range vectors {
		if err := info.CheckDimensions(len(v.Vector)); err != nil {
			return report, fmt.Errorf("upsert %s: vector %s: %w", name, v.ID, err)
		}
	}

	for start := 0; start < len(vectors); start += s.batchSize {
		if start > 0 && s.batchDelay > 0 {
			if err := s.sleep(ctx, s.batchDelay); err != nil {
				return report, err
			}
		}
		batch := vectors[start:min(start+s.batchSize, len(vectors))]

		began := time.Now()
		err := s.call(ctx, func(ctx context.Context) error {
			return s.backend.Upsert(ctx, name, batch)
		})
		s.observe("upsert", began, &err)

		switch {
		case err == nil:
			report.Upserted += len(batch)
			s.logger.Debug("Upsert batch stored",
				zap.String("collection", name),
				zap.Int("batch_size", len(batch)),
			)
		case errors.Is(err, domain.ErrStoreUnavailable) && ctx.Err() == nil:
			s.skip(name, len(batch), start/s.batchSize, err)
			report.Skipped += len(batch)
		default:
			return report, fmt.Errorf("upsert %s batch %d: %w", name, start/s.batchSize, err)
		}
	}
	return report, nil
}

// Search returns the closest vectors with score >= q.ScoreThreshold,
// highest score first. An unreachable store is an error, never an empty result.
func (s *Store) Search(ctx context.Context, name string, q SearchQuery) (_ []domain.RetrievalResult, err error) {
	defer s.observe("search", time.Now(), &err)

	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("search %s: %w", name, domain.ErrEmptyInput)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("search %s: limit must be positive, got %d", name, q.Limit)
	}

	info, err := s.info(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := info.CheckDimensions(len(q.Vector)); err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	q.Distance = info.Distance

	var hits []domain.RetrievalResult
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		hits, err = s.backend.Search(ctx, name, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	out := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < q.ScoreThreshold {
			continue
		}
		h.Collection = name
		out = append(out, h)
	}
	SortByScore(out)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// DeleteByFilter removes every vector matching f. An empty filter is refused.
func (s *Store) DeleteByFilter(ctx context.Context, name string, f filter.Expression) (err error) {
	defer s.observe("delete", time.Now(), &err)

	if f.IsEmpty() {
		return fmt.Errorf("delete from %s: empty filter would remove the whole collection", name)
	}
	if err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.DeleteByFilter(ctx, name, f)
	}); err != nil {
		return fmt.Errorf("delete from %s: %w", name, err)
	}
	return nil
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.call(ctx, s.backend.Ping)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// SortByScore orders results by descending score, ties by chunk id.
func SortByScore(results []domain.RetrievalResult) {
	slices.SortStableFunc(results, func(a, b domain.RetrievalResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
}

// info returns the cached collection info, loading it on first use.
func (s *Store) info(ctx context.Context, name string) (domain.CollectionInfo, error) {
	s.mu.RLock()
	info, ok := s.infos[name]
	s.mu.RUnlock()
	if ok {
		return info, nil
	}
	return s.fetchInfo(ctx, name)
}

func (s *Store) fetchInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	var info domain.CollectionInfo
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.backend.CollectionInfo(ctx, name)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrCollectionNotFound) {
			s.forget(name)
		}
		return domain.CollectionInfo{}, fmt.Errorf("collection %s: %w", name, err)
	}
	s.remember(info)
	return info, nil
}

func (s *Store) remember(info domain.CollectionInfo) {
	s.mu.Lock()
	s.infos[info.Name] = info
	s.mu.Unlock()
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	delete(s.infos, name)
	s.mu.Unlock()
}

// call runs fn under the per-call deadline.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

func (s *Store) skip(name string, n, batch int, err error) {
	metrics.StoreSkippedVectorsTotal.WithLabelValues(s.backend.Name()).Add(float64(n))
	s.logger.Warn("Vector store unavailable, skipping upsert batch",
		zap.String("collection", name),
		zap.Int("batch", batch),
		zap.Int("skipped", n),
		zap.Error(err),
	)
}

func (s *Store) observe(op string, start time.Time, errp *error) {
	status := "success"
	if *errp != nil {
		status = "error"
	}
	metrics.StoreOperationDuration.WithLabelValues(s.backend.Name(), op, status).
		Observe(time.Since(start).Seconds())
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
