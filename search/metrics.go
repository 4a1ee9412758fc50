package search

import "time"

// Metrics receives the timings of searches. Implementations must be safe for
// concurrent use: segments report from their own goroutines.
type Metrics interface {
	RecordSearch(duration time.Duration, segments int, timedOut bool, err error)
	RecordSegment(duration time.Duration, visited uint64)
	RecordReduce(duration time.Duration, err error)
}

type NoopMetrics struct{}

func (NoopMetrics) RecordSearch(time.Duration, int, bool, error) {}
func (NoopMetrics) RecordSegment(time.Duration, uint64)          {}
func (NoopMetrics) RecordReduce(time.Duration, error)            {}
