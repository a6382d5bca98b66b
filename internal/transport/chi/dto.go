package chi

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeValidation       = "validation_failed"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "collection_not_found"
	codeDimMismatch      = "vector_dim_mismatch"
	codeContentTooLong   = "content_too_long"
	codeBatchTooLarge    = "batch_too_large"
	codeStoreUnavailable = "store_unavailable"
	codeProviderError    = "embedding_provider_error"
	codeRateLimited      = "rate_limited"
	codeFallbackRefused  = "fallback_refused"
	codeTimeout          = "timeout"
	codeInternal         = "internal_error"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Query      string            `json:"query"`
	Context    []string          `json:"context,omitempty"`
	MaxResults int               `json:"max_results,omitempty"`
	MinScore   *float64          `json:"min_score,omitempty"`
	Filter     *FilterExpression `json:"filter,omitempty"`
}

// FilterExpression is the wire form of filter.Expression.
type FilterExpression struct {
	Must    []FilterCondition `json:"must,omitempty"`
	Should  []FilterCondition `json:"should,omitempty"`
	MustNot []FilterCondition `json:"must_not,omitempty"`
}

// FilterCondition holds either an exact match or a numeric range.
type FilterCondition struct {
	Key   string       `json:"key"`
	Match *string      `json:"match,omitempty"`
	Range *RangeFilter `json:"range,omitempty"`
}

// RangeFilter bounds a numeric metadata field.
type RangeFilter struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// RetrievalItem is one ranked passage.
type RetrievalItem struct {
	ChunkID        string            `json:"chunk_id"`
	Text           string            `json:"text"`
	SourceFile     string            `json:"source_file"`
	SourceLocation string            `json:"source_location,omitempty"`
	ChunkType      string            `json:"chunk_type,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Score          float64           `json:"score"`
	MatchedVia     string            `json:"matched_via"`
	Collection     string            `json:"collection"`
}

// RetrieveResponse is the answer of POST /v1/retrieve.
type RetrieveResponse struct {
	Items []RetrievalItem `json:"items"`
	Total int             `json:"total"`
}

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	Documents []Document `json:"documents"`
}

// Document is inline source text.
type Document struct {
	SourceFile string            `json:"source_file"`
	Location   string            `json:"location,omitempty"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestItem is the outcome for one document.
type IngestItem struct {
	SourceFile string `json:"source_file"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks"`
	Stored     int    `json:"stored"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// IngestResponse is the answer of POST /v1/ingest.
type IngestResponse struct {
	Items     []IngestItem `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// CollectionResponse describes a stored collection.
type CollectionResponse struct {
	Name        string `json:"name"`
	Dimensions  int    `json:"dimensions"`
	Distance    string `json:"distance"`
	PointsCount int    `json:"points_count"`
	Status      string `json:"status,omitempty"`
}

// HealthResponse is the answer of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func retrievalRequestFromDTO(req RetrieveRequest) (retrieval.Request, error) {
	if req.MaxResults < 0 || req.MaxResults > retrieval.MaxResultsLimit {
		return retrieval.Request{}, fmt.Errorf("max_results must be between 0 and %d", retrieval.MaxResultsLimit)
	}
	if req.MinScore != nil && *req.MinScore < 0 {
		return retrieval.Request{}, errors.New("min_score must not be negative")
	}
	f, err := filterFromDTO(req.Filter)
	if err != nil {
		return retrieval.Request{}, err
	}
	return retrieval.Request{
		Query:      req.Query,
		Context:    req.Context,
		MaxResults: req.MaxResults,
		MinScore:   req.MinScore,
		Filter:     f,
	}, nil
}

func filterFromDTO(f *FilterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromDTO(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromDTO(cs []FilterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c FilterCondition) (filter.Condition, error) {
	switch {
	case c.Match != nil && c.Range != nil:
		return filter.Condition{}, fmt.Errorf("filter condition for %q must have match or range, not both", c.Key)
	case c.Match != nil:
		cond, err := filter.NewMatch(c.Key, *c.Match)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	case c.Range != nil:
		rf, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		cond, err := filter.NewRange(c.Key, rf)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range condition: %w", err)
		}
		return cond, nil
	}
	return filter.Condition{}, errors.New("filter condition must have either match or range")
}

func retrievalItemFromDomain(r *domain.RetrievalResult) RetrievalItem {
	return RetrievalItem{
		ChunkID:        r.ChunkID,
		Text:           r.Text,
		SourceFile:     r.SourceFile,
		SourceLocation: r.SourceLocation,
		ChunkType:      string(r.ChunkType),
		Metadata:       r.Metadata,
		Score:          r.Score,
		MatchedVia:     string(r.MatchedVia),
		Collection:     r.Collection,
	}
}

func sourceFromDTO(d Document) domain.Source {
	return domain.Source{
		File:     d.SourceFile,
		Location: d.Location,
		Text:     d.Text,
		Metadata: d.Metadata,
	}
}

func ingestItemFromResult(r dombatch.Result) IngestItem {
	item := IngestItem{
		SourceFile: r.Source(),
		Status:     string(r.Status()),
		Chunks:     r.Chunks(),
		Stored:     r.Stored(),
		Skipped:    r.Skipped(),
	}
	if err := r.Err(); err != nil {
		item.Error = safeDomainMessage(err)
		item.ErrorCode = errorCode(err)
	}
	return item
}

func collectionFromDomain(c domain.CollectionInfo) CollectionResponse {
	return CollectionResponse{
		Name:        c.Name,
		Dimensions:  c.Dimensions,
		Distance:    string(c.Distance),
		PointsCount: c.PointsCount,
		Status:      c.Status,
	}
}

func healthFromReport(r healthuc.Report) HealthResponse {
	checks := make(map[string]string, len(r.Checks))
	for k, v := range r.Checks {
		checks[k] = string(v)
	}
	return HealthResponse{Status: string(r.Status), Checks: checks}
}
