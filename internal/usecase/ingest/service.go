// Package ingest turns documents into stored vectors.
//
// Each source is chunked, embedded and upserted under a content revision; chunks
// a previous run stored under another revision are removed only after the new
// ones are safely written. Files are processed by a bounded worker pool.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/logger"
	"github.com/kailas-cloud/vecrag/internal/metrics"
)

// Service ingests sources into the vector store.
type Service struct {
	chunker Chunker
	embed   Embedder
	store   VectorStore
	loader  *Loader
	workers int
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers bounds how many files are processed at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLoader sets the file loader.
func WithLoader(l *Loader) Option {
	return func(s *Service) {
		if l != nil {
			s.loader = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an ingestion service.
func New(c Chunker, e Embedder, st VectorStore, opts ...Option) *Service {
	s := &Service{
		chunker: c,
		embed:   e,
		store:   st,
		loader:  NewLoader(),
		workers: min(4, runtime.GOMAXPROCS(0)),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Loader returns the file loader.
func (s *Service) Loader() *Loader { return s.loader }

// EnsureCollections creates the collection of every provider binding.
func (s *Service) EnsureCollections(ctx context.Context, distance domain.DistanceMetric, recreate bool) error {
	for _, b := range s.embed.Bindings() {
		if err := s.store.CreateCollection(ctx, b.Collection, b.Dimensions, distance, recreate); err != nil {
			return fmt.Errorf("ensure collection %s: %w", b.Collection, err)
		}
	}
	return nil
}

// IngestDocument chunks, embeds and stores one source, replacing what a
// previous run stored for the same source file. Old chunks survive when the
// upsert fails or skips batches.
func (s *Service) IngestDocument(ctx context.Context, src domain.Source) dombatch.Result {
	log := logger.FromContextOr(ctx, s.logger).With(zap.String("source", src.File))

	if src.File == "" {
		return dombatch.NewError(src.File, fmt.Errorf("source file is required: %w", domain.ErrEmptyInput))
	}

	chunks := s.chunker.Chunk(src)

	var vectors []domain.EmbeddingVector
	if len(chunks) > 0 {
		var err error
		vectors, err = s.embed.EmbedChunks(ctx, chunks)
		if err != nil {
			metrics.IngestChunksTotal.WithLabelValues("failed").Add(float64(len(chunks)))
			log.Error("Embedding failed", zap.Int("chunks", len(chunks)), zap.Error(err))
			return dombatch.NewError(src.File, fmt.Errorf("embed: %w", err))
		}
	}

	if len(vectors) == 0 {
		if err := s.RemoveSource(ctx, src.File); err != nil {
			return staleRemovalFailed(log, src.File, 0, 0, err)
		}
		log.Info("Source has no chunks")
		return dombatch.NewOK(src.File, 0, 0, 0)
	}

	rev := revision(chunks)
	for i := range vectors {
		if vectors[i].Metadata == nil {
			vectors[i].Metadata = make(map[string]string, 1)
		}
		vectors[i].Metadata[domain.MetaSourceRevision] = rev
	}

	collection := vectors[0].Collection
	report, err := s.store.Upsert(ctx, collection, vectors)
	if err != nil {
		metrics.IngestChunksTotal.WithLabelValues("failed").Add(float64(len(vectors) - report.Upserted - report.Skipped))
		metrics.IngestChunksTotal.WithLabelValues("stored").Add(float64(report.Upserted))
		log.Error("Upsert failed", zap.String("collection", collection), zap.Error(err))
		return dombatch.NewError(src.File, fmt.Errorf("upsert: %w", err))
	}
	metrics.IngestChunksTotal.WithLabelValues("stored").Add(float64(report.Upserted))
	metrics.IngestChunksTotal.WithLabelValues("skipped").Add(float64(report.Skipped))

	if report.Skipped > 0 {
		log.Warn("Kept previous chunks, upsert was incomplete", zap.Int("skipped", report.Skipped))
	} else if err := s.removeStale(ctx, src.File, rev); err != nil {
		return staleRemovalFailed(log, src.File, len(chunks), report.Upserted, err)
	}

	log.Info("Source ingested",
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)),
		zap.Int("stored", report.Upserted),
		zap.Int("skipped", report.Skipped),
	)
	return dombatch.NewOK(src.File, len(chunks), report.Upserted, report.Skipped)
}

// staleRemovalFailed tolerates an unreachable store: the stale chunks are
// removed by the next successful ingest of the source.
func staleRemovalFailed(log *zap.Logger, file string, chunks, stored int, err error) dombatch.Result {
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		return dombatch.NewError(file, fmt.Errorf("remove stale chunks: %w", err))
	}
	log.Warn("Could not remove stale chunks, store unavailable", zap.Error(err))
	return dombatch.NewOK(file, chunks, stored, 0)
}

// IngestFiles ingests files and directories with a bounded worker pool.
// Results follow the sorted order of the expanded file list.
func (s *Service) IngestFiles(ctx context.Context, paths []string) ([]dombatch.Result, error) {
	files, err := s.loader.Expand(paths)
	if err != nil {
		return nil, err
	}

	results := make([]dombatch.Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, file := range files {
		g.Go(func() error {
			results[i] = s.IngestFile(gctx, file)
			return nil
		})
	}
	_ = g.Wait()

	sum := dombatch.Summarize(results)
	s.logger.Info("Ingestion finished",
		zap.Int("sources", sum.Sources),
		zap.Int("failed", sum.Failed),
		zap.Int("chunks", sum.Chunks),
		zap.Int("stored", sum.Stored),
		zap.Int("skipped", sum.Skipped),
	)
	return results, ctx.Err()
}

// IngestFile loads and ingests a single file.
func (s *Service) IngestFile(ctx context.Context, path string) dombatch.Result {
	ctx = logger.ContextWithLogger(ctx, s.logger.With(zap.String("job", "ingest_file")))
	if err := ctx.Err(); err != nil {
		return dombatch.NewError(SourceName(path), err)
	}
	src, err := s.loader.Load(path)
	if err != nil {
		return dombatch.NewError(SourceName(path), err)
	}
	return s.IngestDocument(ctx, src)
}

// RemoveFile removes the chunks of a file path.
func (s *Service) RemoveFile(ctx context.Context, path string) error {
	return s.RemoveSource(ctx, SourceName(path))
}

// RemoveSource deletes every chunk of sourceFile from all provider collections.
// Collections that do not exist yet are ignored.
func (s *Service) RemoveSource(ctx context.Context, sourceFile string) error {
	f, err := filter.Equals(map[string]string{domain.MetaSourceFile: sourceFile})
	if err != nil {
		return err
	}
	return s.deleteEverywhere(ctx, f)
}

// removeStale deletes the chunks of sourceFile stored under any revision but rev.
func (s *Service) removeStale(ctx context.Context, sourceFile, rev string) error {
	source, err := filter.NewMatch(domain.MetaSourceFile, sourceFile)
	if err != nil {
		return err
	}
	current, err := filter.NewMatch(domain.MetaSourceRevision, rev)
	if err != nil {
		return err
	}
	f, err := filter.NewExpression([]filter.Condition{source}, nil, []filter.Condition{current})
	if err != nil {
		return err
	}
	return s.deleteEverywhere(ctx, f)
}

func (s *Service) deleteEverywhere(ctx context.Context, f filter.Expression) error {
	var errs []error
	for _, b := range s.embed.Bindings() {
		err := s.store.DeleteByFilter(ctx, b.Collection, f)
		if err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// revision identifies the chunk set of one ingest. Identical content yields
// the same revision, so re-ingesting an unchanged file deletes nothing.
func revision(chunks []domain.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ID()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
