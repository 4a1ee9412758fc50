package collect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/larose/harvest/search/index"
)

// DefaultCheckInterval is how many documents a deadline-guarded collector
// lets through between two clock reads.
const DefaultCheckInterval = 256

// Deadline is the wall clock budget of one query execution. It is shared by
// every collector of the execution, second passes included: the budget is
// always measured from the baseline, never from when a collector was
// wrapped. A zero budget never expires.
type Deadline struct {
	baseline      time.Time
	budget        time.Duration
	checkInterval uint32
	clock         func() time.Time
	failOnTimeout bool
	timedOut      atomic.Bool
}

type DeadlineOption func(*Deadline)

// WithBaseline sets the time origin of the budget, e.g. when the query was
// received rather than when the deadline was created.
func WithBaseline(baseline time.Time) DeadlineOption {
	return func(d *Deadline) {
		d.baseline = baseline
	}
}

func WithClock(clock func() time.Time) DeadlineOption {
	return func(d *Deadline) {
		d.clock = clock
	}
}

func WithCheckInterval(interval uint32) DeadlineOption {
	return func(d *Deadline) {
		if interval > 0 {
			d.checkInterval = interval
		}
	}
}

// FailOnTimeout makes an exceeded deadline fail the query instead of
// returning what was collected so far.
func FailOnTimeout() DeadlineOption {
	return func(d *Deadline) {
		d.failOnTimeout = true
	}
}

func NewDeadline(budget time.Duration, opts ...DeadlineOption) *Deadline {
	d := &Deadline{
		budget:        budget,
		checkInterval: DefaultCheckInterval,
		clock:         time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.baseline.IsZero() {
		d.baseline = d.clock()
	}

	return d
}

func (d *Deadline) Budget() time.Duration {
	return d.budget
}

func (d *Deadline) Elapsed() time.Duration {
	return d.clock().Sub(d.baseline)
}

// Remaining returns the time left, or a negative duration once exceeded. A
// deadline without budget has no remaining time to report and returns 0.
func (d *Deadline) Remaining() time.Duration {
	if d.budget <= 0 {
		return 0
	}

	return d.budget - d.Elapsed()
}

func (d *Deadline) FailsOnTimeout() bool {
	return d.failOnTimeout
}

// TimedOut reports whether a check observed the deadline exceeded.
func (d *Deadline) TimedOut() bool {
	return d != nil && d.timedOut.Load()
}

// Check reads the clock and returns a *TimeoutError once the budget is spent.
// Once exceeded, every later check fails. A nil
// deadline never expires.
func (d *Deadline) Check() error {
	if d == nil || d.budget <= 0 {
		return nil
	}

	if !d.timedOut.Load() {
		if d.Elapsed() < d.budget {
			return nil
		}
		d.timedOut.Store(true)
	}

	return &TimeoutError{
		Elapsed: d.Elapsed(),
		Budget:  d.budget,
		Fail:    d.failOnTimeout,
	}
}

// Wrap guards a collector with the deadline. Without budget the collector is
// returned as is.
func (d *Deadline) Wrap(c Collector) Collector {
	if d == nil || d.budget <= 0 {
		return c
	}

	return &DeadlineCollector{
		deadline: d,
		delegate: c,
		interval: d.checkInterval,
	}
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// DeadlineCollector
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// DeadlineCollector checks the deadline every interval documents before
// forwarding to its delegate.
type DeadlineCollector struct {
	count    uint32
	deadline *Deadline
	delegate Collector
	interval uint32
}

func (c *DeadlineCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	c.count++
	if c.count >= c.interval {
		c.count = 0
		if err := c.deadline.Check(); err != nil {
			return err
		}
	}

	return c.delegate.Collect(doc, scorer)
}

func (c *DeadlineCollector) Unwrap() Collector {
	return c.delegate
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Context
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type deadlineKey struct{}

// WithDeadline attaches a deadline to a context.
func WithDeadline(ctx context.Context, d *Deadline) context.Context {
	return context.WithValue(ctx, deadlineKey{}, d)
}

// DeadlineFromContext returns the deadline of the context, or nil.
func DeadlineFromContext(ctx context.Context) *Deadline {
	if d, ok := ctx.Value(deadlineKey{}).(*Deadline); ok {
		return d
	}
	return nil
}
