package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrCollectionNotFound signals a missing vector collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDimensionMismatch signals a vector whose length differs from the collection size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable signals that the vector store cannot be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrGenerationFailed signals an unclassified provider failure.
	ErrGenerationFailed = errors.New("embedding generation failed")
	// ErrContentTooLong signals an input longer than the provider accepts.
	ErrContentTooLong = errors.New("content too long")
	// ErrBatchTooLarge signals more inputs than the provider accepts per call.
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrFallbackRefused signals that the primary provider failed and fallback is disabled.
	ErrFallbackRefused = errors.New("provider fallback refused")
	// ErrEmptyInput signals an empty embedding request.
	ErrEmptyInput = errors.New("empty input")
)

// ErrorKind classifies failures for the retry policy.
type ErrorKind int

// Error kinds. Transient kinds are retried, the rest fail fast.
const (
	KindUnknown ErrorKind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindRateLimited
	KindServerError
	KindServiceUnavailable
	KindTimeout
	KindNetwork
	KindContentTooLong
	KindBatchTooLarge
	KindDimensionMismatch
	KindGenerationFailed
	KindCanceled
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindBadRequest:         "bad_request",
	KindUnauthorized:       "unauthorized",
	KindForbidden:          "forbidden",
	KindRateLimited:        "rate_limited",
	KindServerError:        "server_error",
	KindServiceUnavailable: "service_unavailable",
	KindTimeout:            "timeout",
	KindNetwork:            "network",
	KindContentTooLong:     "content_too_long",
	KindBatchTooLarge:      "batch_too_large",
	KindDimensionMismatch:  "dimension_mismatch",
	KindGenerationFailed:   "generation_failed",
	KindCanceled:           "canceled",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Transient reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindServerError, KindServiceUnavailable, KindTimeout, KindNetwork:
		return true
	}
	return false
}

// KindFromStatus maps a non-2xx HTTP status to an error kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindBadRequest
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return KindServiceUnavailable
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindBadRequest
	}
	return KindGenerationFailed
}

// ProviderError is a classified embedding provider failure.
type ProviderError struct {
	Provider ProviderKind
	Kind     ErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrEmbeddingProvider, e.Err}
	}
	return []error{ErrEmbeddingProvider}
}

// NewProviderError creates a classified provider error from an HTTP status.
func NewProviderError(provider ProviderKind, status int, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindFromStatus(status), Status: status, Message: message}
}

// ContentTooLongError reports an input that exceeds the provider maximum.
type ContentTooLongError struct {
	Actual int
	Max    int
}

func (e *ContentTooLongError) Error() string {
	return fmt.Sprintf("%s: %d characters, max %d", ErrContentTooLong, e.Actual, e.Max)
}

func (e *ContentTooLongError) Unwrap() error { return ErrContentTooLong }

// BatchTooLargeError reports a batch that exceeds the provider maximum.
type BatchTooLargeError struct {
	Actual int
	Max    int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d inputs, max %d", ErrBatchTooLarge, e.Actual, e.Max)
}

func (e *BatchTooLargeError) Unwrap() error { return ErrBatchTooLarge }

// DimensionMismatchError reports a vector length that differs from the expected size.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// KindOf classifies any error returned along the embedding path.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	switch {
	case errors.Is(err, ErrContentTooLong):
		return KindContentTooLong
	case errors.Is(err, ErrBatchTooLarge):
		return KindBatchTooLarge
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	return KindGenerationFailed
}
