// Package collect holds the per-segment accumulators a search feeds, the
// managers that create and reduce them, and the composition of several
// managers into a single scan.
package collect

import (
	"github.com/larose/harvest/search/index"
)

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Collector
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Scorable gives access to the score of the document being collected. The
// score is only computed when asked for.
type Scorable interface {
	Score() float32
}

// Collector accumulates the matching documents of one segment. Documents are
// passed in increasing local doc id order. Returning ErrTerminated stops the
// segment; any other error aborts the search.
type Collector interface {
	Collect(doc index.DocumentId, scorer Scorable) error
}

// Unwrapper is implemented by collectors decorating another collector.
type Unwrapper interface {
	Unwrap() Collector
}

// Unwrap removes every decoration from a collector.
func Unwrap(c Collector) Collector {
	for {
		wrapper, ok := c.(Unwrapper)
		if !ok {
			return c
		}

		c = wrapper.Unwrap()
	}
}

type ScoreMode int

const (
	// ScoreModeNone means collectors never look at scores.
	ScoreModeNone ScoreMode = iota
	ScoreModeComplete
)

func (m ScoreMode) NeedsScores() bool {
	return m == ScoreModeComplete
}

// Combine returns the mode satisfying both m and other.
func (m ScoreMode) Combine(other ScoreMode) ScoreMode {
	if m == ScoreModeComplete || other == ScoreModeComplete {
		return ScoreModeComplete
	}

	return ScoreModeNone
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Manager
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Manager creates one collector per segment and reduces them once every
// segment has been scanned. Reduce must give the same answer for the same
// documents however they were split across segments, including none.
type Manager[C Collector, T any] interface {
	NewCollector(segment *index.SegmentReader) (C, error)
	Reduce(collectors []C) (T, error)
	ScoreMode() ScoreMode
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Key
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Key identifies one capability of a composite collection: C is its
// per-segment collector, T its reduced result. Keys are compared by identity.
type Key[C Collector, T any] struct {
	name string
}

func NewKey[C Collector, T any](name string) *Key[C, T] {
	return &Key[C, T]{name: name}
}

func (k *Key[C, T]) String() string {
	return k.name
}
