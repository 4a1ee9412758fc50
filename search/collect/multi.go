package collect

import (
	"errors"
	"fmt"

	"github.com/larose/harvest/search/index"
)

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Type erasure
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type erasedManager interface {
	key() any
	name() string
	newCollector(segment *index.SegmentReader) (Collector, error)
	reduce(collectors []Collector) (any, error)
	scoreMode() ScoreMode
}

type typedManager[C Collector, T any] struct {
	k             *Key[C, T]
	manager       Manager[C, T]
	applyToNested bool
}

func (m *typedManager[C, T]) key() any {
	return m.k
}

func (m *typedManager[C, T]) name() string {
	return m.k.String()
}

func (m *typedManager[C, T]) newCollector(segment *index.SegmentReader) (Collector, error) {
	c, err := m.manager.NewCollector(segment)
	if err != nil {
		return nil, err
	}

	if m.applyToNested {
		return newNestedCollector(c, segment), nil
	}

	return c, nil
}

func (m *typedManager[C, T]) reduce(collectors []Collector) (any, error) {
	typed := make([]C, len(collectors))
	for i, c := range collectors {
		collector, ok := unwrapDecorations(c).(C)
		if !ok {
			return nil, fmt.Errorf("%w: %s got collector %T", ErrInvariantViolation, m.k, c)
		}
		typed[i] = collector
	}

	return m.manager.Reduce(typed)
}

// unwrapDecorations removes the collectors this package wraps around the
// collectors of a manager, and nothing else.
func unwrapDecorations(c Collector) Collector {
	for {
		switch decorated := c.(type) {
		case *DeadlineCollector:
			c = decorated.delegate
		case *nestedCollector:
			c = decorated.delegate
		default:
			return c
		}
	}
}

func (m *typedManager[C, T]) scoreMode() ScoreMode {
	return m.manager.ScoreMode()
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// MultiBuilder
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// MultiBuilder accumulates keyed managers to run them in a single scan.
type MultiBuilder struct {
	deadline *Deadline
	managers []erasedManager
}

func NewMultiBuilder() *MultiBuilder {
	return &MultiBuilder{}
}

// WithDeadline guards every collector of the built manager with d.
func (b *MultiBuilder) WithDeadline(d *Deadline) *MultiBuilder {
	b.deadline = d
	return b
}

func (b *MultiBuilder) Len() int {
	return len(b.managers)
}

// Add registers a manager under its key. A key can only be added once.
func Add[C Collector, T any](b *MultiBuilder, key *Key[C, T], manager Manager[C, T]) error {
	return addManager(b, key, manager, false)
}

func addManager[C Collector, T any](b *MultiBuilder, key *Key[C, T], manager Manager[C, T], applyToNested bool) error {
	for _, m := range b.managers {
		if m.key() == any(key) {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
	}

	b.managers = append(b.managers, &typedManager[C, T]{k: key, manager: manager, applyToNested: applyToNested})
	return nil
}

// Build returns nil when nothing was added: there is nothing to collect.
func (b *MultiBuilder) Build() *MultiManager {
	if len(b.managers) == 0 {
		return nil
	}

	return &MultiManager{
		deadline: b.deadline,
		managers: append([]erasedManager(nil), b.managers...),
	}
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// MultiManager
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// MultiManager runs several capabilities in one scan. With a single
// capability its collectors are the capability's own collectors, so early
// termination and score modes are not lost to a fan-out.
type MultiManager struct {
	deadline *Deadline
	managers []erasedManager
}

func (m *MultiManager) Deadline() *Deadline {
	return m.deadline
}

// Keys returns the capability names in registration order.
func (m *MultiManager) Keys() []string {
	names := make([]string, len(m.managers))
	for i, manager := range m.managers {
		names[i] = manager.name()
	}
	return names
}

func (m *MultiManager) ScoreMode() ScoreMode {
	mode := ScoreModeNone
	for _, manager := range m.managers {
		mode = mode.Combine(manager.scoreMode())
	}
	return mode
}

func (m *MultiManager) NewCollector(segment *index.SegmentReader) (Collector, error) {
	var collector Collector

	if len(m.managers) == 1 {
		c, err := m.managers[0].newCollector(segment)
		if err != nil {
			return nil, err
		}
		collector = c
	} else {
		collectors := make([]Collector, len(m.managers))
		for i, manager := range m.managers {
			c, err := manager.newCollector(segment)
			if err != nil {
				return nil, err
			}
			collectors[i] = c
		}
		collector = &multiCollector{collectors: collectors, active: len(collectors)}
	}

	return m.deadline.Wrap(collector), nil
}

// Reduce reduces every capability with its own manager. A failure of any
// capability fails the whole reduce.
func (m *MultiManager) Reduce(collectors []Collector) (*Results, error) {
	results := &Results{values: make(map[any]any, len(m.managers))}

	if len(m.managers) == 1 {
		manager := m.managers[0]

		unwrapped := make([]Collector, len(collectors))
		for i, c := range collectors {
			unwrapped[i] = m.unwrapDeadline(c)
		}

		value, err := manager.reduce(unwrapped)
		if err != nil {
			return nil, &ReduceError{Key: manager.name(), Err: err}
		}

		results.values[manager.key()] = value
		return results, nil
	}

	for i, manager := range m.managers {
		slot := make([]Collector, len(collectors))
		for j, c := range collectors {
			multi, ok := m.unwrapDeadline(c).(*multiCollector)
			if !ok {
				return nil, fmt.Errorf("%w: expected a multi collector, got %T", ErrInvariantViolation, c)
			}
			slot[j] = multi.collectors[i]
		}

		value, err := manager.reduce(slot)
		if err != nil {
			return nil, &ReduceError{Key: manager.name(), Err: err}
		}

		results.values[manager.key()] = value
	}

	return results, nil
}

func (m *MultiManager) unwrapDeadline(c Collector) Collector {
	if guarded, ok := c.(*DeadlineCollector); ok {
		return guarded.Unwrap()
	}
	return c
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// multiCollector
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// multiCollector forwards every document to each sub-collector still
// interested in the segment.
type multiCollector struct {
	active     int
	collectors []Collector
	terminated []bool
}

func (c *multiCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	for i, collector := range c.collectors {
		if c.terminated != nil && c.terminated[i] {
			continue
		}

		err := collector.Collect(doc, scorer)
		if err == nil {
			continue
		}

		if !errors.Is(err, ErrTerminated) {
			return err
		}

		if c.terminated == nil {
			c.terminated = make([]bool, len(c.collectors))
		}
		c.terminated[i] = true
		c.active--

		if c.active == 0 {
			return ErrTerminated
		}
	}

	return nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Results
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Results holds the reduced value of every capability of a collection.
type Results struct {
	values map[any]any
}

// Get returns the reduced value registered under key.
func Get[C Collector, T any](results *Results, key *Key[C, T]) (T, bool) {
	var zero T
	if results == nil {
		return zero, false
	}

	value, exists := results.values[key]
	if !exists {
		return zero, false
	}

	typed, ok := value.(T)
	return typed, ok
}

func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.values)
}
