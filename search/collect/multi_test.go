package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/larose/harvest/search/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCollector struct {
	docs []uint64
	base uint64
}

func (c *countingCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	c.docs = append(c.docs, c.base+uint64(doc))
	return nil
}

// countingManager records every document its collectors see.
type countingManager struct {
	created   int
	reduceErr error
}

func (m *countingManager) NewCollector(segment *index.SegmentReader) (*countingCollector, error) {
	m.created++
	return &countingCollector{base: segment.DocBase}, nil
}

func (m *countingManager) Reduce(collectors []*countingCollector) ([]uint64, error) {
	if m.reduceErr != nil {
		return nil, m.reduceErr
	}

	docs := make([]uint64, 0)
	for _, collector := range collectors {
		docs = append(docs, collector.docs...)
	}
	return docs, nil
}

func (m *countingManager) ScoreMode() ScoreMode {
	return ScoreModeNone
}

func TestMultiBuilderEmpty(t *testing.T) {
	assert.Nil(t, NewMultiBuilder().Build())
}

func TestSingleCapabilityPassesThrough(t *testing.T) {
	reader := newTestReader(t)

	builder := NewMultiBuilder()
	require.NoError(t, Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil))))
	manager := builder.Build()

	collector, err := manager.NewCollector(reader.Segments[0])
	require.NoError(t, err)
	assert.IsType(t, &TotalHitCountCollector{}, collector)

	results := scan(t, reader, Manager[Collector, *Results](manager), noScore)
	composite, ok := Get(results, TotalHitCountKey)
	require.True(t, ok)

	direct := scan(t, reader, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil)), noScore)
	assert.Equal(t, direct, composite)
	assert.Equal(t, 1, results.Len())
}

func TestSingleCapabilityKeepsEarlyTermination(t *testing.T) {
	reader := newTestReader(t)

	topDocs, err := NewTopFieldDocsManager(reader, ByFields(SortField{Type: SortIndexOrder}), 1, 0, false, nil)
	require.NoError(t, err)

	builder := NewMultiBuilder()
	require.NoError(t, Add(builder, TopDocsKey, Manager[*TopDocsCollector, *TopDocs](topDocs)))

	collector, err := builder.Build().NewCollector(reader.Segments[0])
	require.NoError(t, err)
	assert.ErrorIs(t, collector.Collect(0, fixedScore(0)), ErrTerminated)
}

func TestFanOutVisitsEachDocumentOnce(t *testing.T) {
	reader := newTestReader(t)

	keys := []*Key[*countingCollector, []uint64]{
		NewKey[*countingCollector, []uint64]("first"),
		NewKey[*countingCollector, []uint64]("second"),
		NewKey[*countingCollector, []uint64]("third"),
	}
	managers := make([]*countingManager, len(keys))

	builder := NewMultiBuilder()
	for i, key := range keys {
		managers[i] = &countingManager{}
		require.NoError(t, Add(builder, key, Manager[*countingCollector, []uint64](managers[i])))
	}

	manager := builder.Build()
	assert.Equal(t, []string{"first", "second", "third"}, manager.Keys())

	results := scan(t, reader, Manager[Collector, *Results](manager), noScore)

	for i, key := range keys {
		docs, ok := Get(results, key)
		require.True(t, ok)
		assert.Equal(t, []uint64{0, 3, 4, 5}, docs)
		assert.Equal(t, len(reader.Segments), managers[i].created)
	}

	_, ok := Get(results, TotalHitCountKey)
	assert.False(t, ok)
}

func TestFanOutTerminatesWhenEveryCollectorIsDone(t *testing.T) {
	reader := newTestReader(t)

	topDocs, err := NewTopFieldDocsManager(reader, ByFields(SortField{Type: SortIndexOrder}), 1, 0, false, nil)
	require.NoError(t, err)

	builder := NewMultiBuilder()
	require.NoError(t, Add(builder, TopDocsKey, Manager[*TopDocsCollector, *TopDocs](topDocs)))
	require.NoError(t, Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil))))

	results := scan(t, reader, Manager[Collector, *Results](builder.Build()), noScore)

	top, ok := Get(results, TopDocsKey)
	require.True(t, ok)
	assert.Equal(t, []uint64{0}, hitDocs(top))

	count, ok := Get(results, TotalHitCountKey)
	require.True(t, ok)
	assert.Equal(t, uint64(4), count.Value)
}

func TestDuplicateKey(t *testing.T) {
	builder := NewMultiBuilder()
	require.NoError(t, Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil))))

	err := Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil)))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 1, builder.Len())
}

func TestReduceFailureFailsEveryCapability(t *testing.T) {
	reader := newTestReader(t)
	failure := errors.New("boom")

	builder := NewMultiBuilder()
	require.NoError(t, Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(nil))))
	key := NewKey[*countingCollector, []uint64]("failing")
	require.NoError(t, Add(builder, key, Manager[*countingCollector, []uint64](&countingManager{reduceErr: failure})))
	manager := builder.Build()

	collectors := make([]Collector, 0)
	for _, segment := range reader.Segments {
		collector, err := manager.NewCollector(segment)
		require.NoError(t, err)
		collectors = append(collectors, collector)
	}

	results, err := manager.Reduce(collectors)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, failure)

	var reduceErr *ReduceError
	require.ErrorAs(t, err, &reduceErr)
	assert.Equal(t, "failing", reduceErr.Key)
}

func TestFactoryCreationFailure(t *testing.T) {
	failure := errors.New("bad context")
	key := NewKey[*countingCollector, []uint64]("custom")

	factory := NewFactory(key, func(ctx FactoryContext) (Manager[*countingCollector, []uint64], error) {
		return nil, failure
	})

	assert.Equal(t, "custom", factory.Name())
	assert.False(t, factory.ApplyToNested())
	assert.ErrorIs(t, factory.Register(FactoryContext{}, NewMultiBuilder()), failure)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestDeadlineCollector(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	deadline := NewDeadline(10*time.Millisecond, WithClock(clock.Now), WithCheckInterval(2))

	delegate := &TotalHitCountCollector{}
	collector := deadline.Wrap(delegate)

	guarded, ok := collector.(*DeadlineCollector)
	require.True(t, ok)
	assert.Same(t, delegate, guarded.Unwrap())
	assert.Same(t, delegate, Unwrap(collector))

	require.NoError(t, collector.Collect(0, nil))
	require.NoError(t, collector.Collect(1, nil))

	clock.now = clock.now.Add(20 * time.Millisecond)

	// The clock is only read every second document.
	require.NoError(t, collector.Collect(2, nil))
	err := collector.Collect(3, nil)
	assert.ErrorIs(t, err, ErrTimedOut)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Elapsed)
	assert.False(t, timeoutErr.Fail)

	assert.True(t, deadline.TimedOut())
	assert.Equal(t, uint64(3), delegate.Count())
}

func TestDeadlineBaseline(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	deadline := NewDeadline(time.Second, WithClock(clock.Now), WithBaseline(clock.now.Add(-2*time.Second)), FailOnTimeout())
	assert.True(t, deadline.FailsOnTimeout())
	assert.Less(t, deadline.Remaining(), time.Duration(0))

	var timeoutErr *TimeoutError
	require.ErrorAs(t, deadline.Check(), &timeoutErr)
	assert.True(t, timeoutErr.Fail)

	unbounded := NewDeadline(0)
	assert.NoError(t, unbounded.Check())
	collector := &TotalHitCountCollector{}
	assert.Same(t, collector, unbounded.Wrap(collector))

	var missing *Deadline
	assert.Same(t, collector, missing.Wrap(collector))
}

func TestTimeoutKeepsPartialResults(t *testing.T) {
	reader := newTestReader(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	deadline := NewDeadline(time.Millisecond, WithClock(clock.Now), WithCheckInterval(1))

	builder := NewMultiBuilder().WithDeadline(deadline)
	require.NoError(t, Add(builder, TopDocsKey, Manager[*TopDocsCollector, *TopDocs](NewTopScoreDocsManager(10, 1000, deadline))))
	require.NoError(t, Add(builder, TotalHitCountKey, Manager[*TotalHitCountCollector, TotalHits](NewTotalHitCountManager(deadline))))
	manager := builder.Build()
	assert.Same(t, deadline, manager.Deadline())

	segment := reader.Segments[0]
	collector, err := manager.NewCollector(segment)
	require.NoError(t, err)

	require.NoError(t, collector.Collect(0, fixedScore(1)))
	clock.now = clock.now.Add(time.Second)
	assert.ErrorIs(t, collector.Collect(3, fixedScore(2)), ErrTimedOut)

	results, err := manager.Reduce([]Collector{collector})
	require.NoError(t, err)

	top, ok := Get(results, TopDocsKey)
	require.True(t, ok)
	assert.Equal(t, []uint64{0}, hitDocs(top))
	assert.True(t, top.TimedOut)
	assert.Equal(t, GreaterThanOrEqualTo, top.TotalHits.Relation)

	count, ok := Get(results, TotalHitCountKey)
	require.True(t, ok)
	assert.Equal(t, TotalHits{Value: 1, Relation: GreaterThanOrEqualTo}, count)
}

func TestDeadlineContext(t *testing.T) {
	deadline := NewDeadline(time.Second)
	ctx := WithDeadline(context.Background(), deadline)

	assert.Same(t, deadline, DeadlineFromContext(ctx))
	assert.Nil(t, DeadlineFromContext(context.Background()))
}
