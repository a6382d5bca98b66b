// Package chi exposes retrieval and ingestion over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/domain"
	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
	"github.com/kailas-cloud/vecrag/internal/logger"
	healthuc "github.com/kailas-cloud/vecrag/internal/usecase/health"
)

const (
	maxDocuments = 100
	maxBodyBytes = 16 << 20
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

type sentinelMapping struct {
	err    error
	status int
	code   string
}

// domainErrors is matched in order; ErrFallbackRefused wraps a provider error
// and must come before ErrEmbeddingProvider.
var domainErrors = []sentinelMapping{
	{domain.ErrEmptyInput, http.StatusBadRequest, codeValidation},
	{domain.ErrContentTooLong, http.StatusBadRequest, codeContentTooLong},
	{domain.ErrBatchTooLarge, http.StatusBadRequest, codeBatchTooLarge},
	{domain.ErrCollectionNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrDimensionMismatch, http.StatusConflict, codeDimMismatch},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable},
	{domain.ErrFallbackRefused, http.StatusBadGateway, codeFallbackRefused},
	{domain.ErrEmbeddingProvider, http.StatusBadGateway, codeProviderError},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout},
}

// Server serves the retrieval API.
type Server struct {
	retriever     Retriever
	ingester      Ingester
	collections   CollectionReader
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retriever Retriever,
	ingester Ingester,
	collections CollectionReader,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retriever:   retriever,
		ingester:    ingester,
		collections: collections,
		health:      health,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{providerRateLimitHandler}
	for _, m := range domainErrors {
		s.errorHandlers = append(s.errorHandlers, sentinelHandler(m.err, m.status, m.code))
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r gochi.Router) {
		r.Post("/retrieve", s.Retrieve)
		r.Post("/ingest", s.Ingest)
		r.Delete("/sources", s.DeleteSource)
		r.Get("/collections/{name}", s.GetCollection)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var body RetrieveRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := retrievalRequestFromDTO(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "query is required")
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	items := make([]RetrievalItem, len(results))
	for i := range results {
		items[i] = retrievalItemFromDomain(&results[i])
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Items: items, Total: len(items)})
}

// Ingest handles POST /v1/ingest. Documents are processed in request order;
// one failing document does not stop the rest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var body IngestRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if len(body.Documents) == 0 || len(body.Documents) > maxDocuments {
		writeError(w, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("documents count must be between 1 and %d", maxDocuments))
		return
	}
	for i, d := range body.Documents {
		if strings.TrimSpace(d.SourceFile) == "" {
			writeError(w, http.StatusBadRequest, codeValidation,
				fmt.Sprintf("documents[%d]: source_file is required", i))
			return
		}
	}

	resp := IngestResponse{Items: make([]IngestItem, 0, len(body.Documents))}
	for _, d := range body.Documents {
		res := s.ingester.IngestDocument(r.Context(), sourceFromDTO(d))
		resp.Items = append(resp.Items, ingestItemFromResult(res))
		if res.Status() == dombatch.StatusError {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSource handles DELETE /v1/sources?source_file=.
func (s *Server) DeleteSource(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source_file"))
	if source == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "source_file query parameter is required")
		return
	}
	if err := s.ingester.RemoveSource(r.Context(), source); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCollection handles GET /v1/collections/{name}.
func (s *Server) GetCollection(w http.ResponseWriter, r *http.Request) {
	info, err := s.collections.CollectionInfo(r.Context(), gochi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionFromDomain(info))
}

// HealthCheck handles GET /health. Degraded still answers 200: retrieval
// keeps working while an optional component is down.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthFromReport(report))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return m.err.Error()
		}
	}
	return "internal error"
}

func errorCode(err error) string {
	if providerKind(err) == domain.KindRateLimited {
		return codeRateLimited
	}
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return codeInternal
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// providerRateLimitHandler surfaces an upstream 429 that outlived retries.
func providerRateLimitHandler(w http.ResponseWriter, err error, _ string) bool {
	if providerKind(err) != domain.KindRateLimited {
		return false
	}
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "embedding provider rate limited")
	return true
}

func providerKind(err error) domain.ErrorKind {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.KindUnknown
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logger.FromContextOr(ctx, s.logger)
	log.Warn("Domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
