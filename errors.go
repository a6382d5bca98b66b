package vecrag

import (
	"errors"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

// Sentinel errors returned by Client methods. Match them with errors.Is.
var (
	ErrCollectionNotFound = domain.ErrCollectionNotFound
	ErrDimensionMismatch  = domain.ErrDimensionMismatch
	ErrStoreUnavailable   = domain.ErrStoreUnavailable
	ErrEmbeddingProvider  = domain.ErrEmbeddingProvider
	ErrContentTooLong     = domain.ErrContentTooLong
	ErrBatchTooLarge      = domain.ErrBatchTooLarge
	ErrFallbackRefused    = domain.ErrFallbackRefused
	ErrEmptyInput         = domain.ErrEmptyInput
)

// ErrProviderUnavailable is returned (or wrapped) by a custom Embedder to report an outage.
// Such failures are retried and then routed to the next provider in the chain;
// any other Embedder error fails the call immediately.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")
