// Package batch holds per-source outcomes of an ingestion run.
package batch

// ItemStatus is the processing outcome of a single source.
type ItemStatus string

// Source status values. Partial means some upsert batches were skipped.
const (
	StatusOK      ItemStatus = "ok"
	StatusPartial ItemStatus = "partial"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of ingesting one source.
type Result struct {
	source  string
	status  ItemStatus
	chunks  int
	stored  int
	skipped int
	err     error
}

// NewOK creates a result for a fully stored source.
// A non-zero skipped count downgrades the status to partial.
func NewOK(source string, chunks, stored, skipped int) Result {
	status := StatusOK
	if skipped > 0 {
		status = StatusPartial
	}
	return Result{source: source, status: status, chunks: chunks, stored: stored, skipped: skipped}
}

// NewError creates a failed result.
func NewError(source string, err error) Result {
	return Result{source: source, status: StatusError, err: err}
}

// Source returns the source file the result belongs to.
func (r Result) Source() string { return r.source }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Chunks returns the number of chunks produced.
func (r Result) Chunks() int { return r.chunks }

// Stored returns the number of vectors written.
func (r Result) Stored() int { return r.stored }

// Skipped returns the number of vectors dropped because the store was unavailable.
func (r Result) Skipped() int { return r.skipped }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Summary aggregates results of a run.
type Summary struct {
	Sources int
	Failed  int
	Chunks  int
	Stored  int
	Skipped int
}

// Summarize folds results into totals.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		s.Sources++
		if r.status == StatusError {
			s.Failed++
		}
		s.Chunks += r.chunks
		s.Stored += r.stored
		s.Skipped += r.skipped
	}
	return s
}
