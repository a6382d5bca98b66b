// Package retrieval answers a query with ranked passages, optionally widened
// by a second search on user-highlighted context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/metrics"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

// Defaults applied when a request leaves limits unset.
const (
	DefaultMaxResults = 5
	DefaultMinScore   = 0.0
	MaxResultsLimit   = 100
)

// Request is a single retrieval call.
type Request struct {
	Query string
	// Context holds passages the user highlighted. They are searched as one text.
	Context    []string
	MaxResults int
	// MinScore is used as given when set; nil falls back to the service default.
	MinScore *float64
	Filter   filter.Expression
}

// Service embeds queries and merges query and context search results.
type Service struct {
	embed      Embedder
	store      Searcher
	maxResults int
	minScore   float64
	logger     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults sets the limits used when a request does not carry its own.
func WithDefaults(maxResults int, minScore float64) Option {
	return func(s *Service) {
		if maxResults > 0 {
			s.maxResults = min(maxResults, MaxResultsLimit)
		}
		s.minScore = minScore
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

// New creates a retrieval service.
func New(embed Embedder, store Searcher, opts ...Option) *Service {
	s := &Service{
		embed:      embed,
		store:      store,
		maxResults: DefaultMaxResults,
		minScore:   DefaultMinScore,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Retrieve returns at most MaxResults passages with score >= MinScore,
// deduplicated by chunk id and ordered by descending score.
//
// A store failure is returned as an error so callers can tell
// "nothing relevant" from "retrieval failed".
func (s *Service) Retrieve(ctx context.Context, req Request) ([]domain.RetrievalResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query: %w", domain.ErrEmptyInput)
	}

	maxResults := req.MaxResults
	switch {
	case maxResults <= 0:
		maxResults = s.maxResults
	case maxResults > MaxResultsLimit:
		return nil, fmt.Errorf("max_results %d exceeds limit %d", maxResults, MaxResultsLimit)
	}
	minScore := s.minScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	contextText := joinContext(req.Context)

	var fromQuery, fromContext []domain.RetrievalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromQuery, err = s.search(gctx, query, maxResults, minScore, req.Filter)
		if err != nil {
			return fmt.Errorf("query search: %w", err)
		}
		return nil
	})
	if contextText != "" {
		g.Go(func() error {
			var err error
			fromContext, err = s.search(gctx, contextText, max(1, maxResults/2), minScore, req.Filter)
			if err != nil {
				return fmt.Errorf("context search: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := merge(fromQuery, fromContext, maxResults)

	var viaContext int
	for _, r := range results {
		if r.MatchedVia == domain.MatchedContext {
			viaContext++
		}
	}
	metrics.RetrievalResultsTotal.WithLabelValues(string(domain.MatchedQuery)).Add(float64(len(results) - viaContext))
	metrics.RetrievalResultsTotal.WithLabelValues(string(domain.MatchedContext)).Add(float64(viaContext))

	s.logger.Debug("Retrieval completed",
		zap.Int("query_hits", len(fromQuery)),
		zap.Int("context_hits", len(fromContext)),
		zap.Int("returned", len(results)),
	)
	return results, nil
}

func (s *Service) search(
	ctx context.Context, text string, limit int, minScore float64, f filter.Expression,
) ([]domain.RetrievalResult, error) {
	qv, err := s.embed.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if qv.Collection == "" {
		return nil, errors.New("query vector is not bound to a collection")
	}
	return s.store.Search(ctx, qv.Collection, vectorstore.SearchQuery{
		Vector:         qv.Vector,
		Limit:          limit,
		ScoreThreshold: minScore,
		Filter:         f,
	})
}

// merge appends context hits not already found by the query, re-sorts and truncates.
// On a duplicate chunk id the query hit is kept.
func merge(fromQuery, fromContext []domain.RetrievalResult, maxResults int) []domain.RetrievalResult {
	seen := make(map[string]bool, len(fromQuery)+len(fromContext))
	out := make([]domain.RetrievalResult, 0, len(fromQuery)+len(fromContext))

	for _, r := range fromQuery {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		r.MatchedVia = domain.MatchedQuery
		out = append(out, r)
	}
	for _, r := range fromContext {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		r.MatchedVia = domain.MatchedContext
		out = append(out, r)
	}

	vectorstore.SortByScore(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func joinContext(passages []string) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
