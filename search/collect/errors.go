package collect

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimedOut is returned by deadline-guarded collectors once the query
	// deadline is exceeded. It unwinds the current segment scan.
	ErrTimedOut = errors.New("collection timed out")

	// ErrTerminated is returned by a collector that needs no more documents
	// from the current segment. It is not a failure.
	ErrTerminated = errors.New("collection terminated early")

	// ErrInvariantViolation reports a disagreement between what a scan
	// collected and what is later read from it. It is never recoverable.
	ErrInvariantViolation = errors.New("collector invariant violation")

	ErrInvalidSort  = errors.New("invalid sort")
	ErrDuplicateKey = errors.New("duplicate collector key")
)

// TimeoutError carries the timing of an exceeded deadline.
type TimeoutError struct {
	Elapsed time.Duration
	Budget  time.Duration
	// Fail is set when the deadline is configured to fail the query instead
	// of returning partial results.
	Fail bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("collection timed out after %s (budget %s)", e.Elapsed, e.Budget)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimedOut
}

// DistanceLookupError is returned when neither a document nor any of its
// nested documents were collected by a distance collector.
type DistanceLookupError struct {
	Doc    uint64
	Nested []uint64
}

func (e *DistanceLookupError) Error() string {
	return fmt.Sprintf("document %d (nested %v) was not collected", e.Doc, e.Nested)
}

func (e *DistanceLookupError) Unwrap() error {
	return ErrInvariantViolation
}

// ReduceError wraps a failure of one capability while reducing.
type ReduceError struct {
	Key string
	Err error
}

func (e *ReduceError) Error() string {
	return fmt.Sprintf("reduce %s: %v", e.Key, e.Err)
}

func (e *ReduceError) Unwrap() error {
	return e.Err
}
