package search_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/larose/harvest/search"
	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
	"github.com/larose/harvest/search/query"
	"github.com/larose/harvest/search/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initSimpleIndex(t *testing.T) *index.IndexReader {
	directory := t.TempDir()
	indexWriter := index.NewIndexWriter(directory)

	{
		docs := []index.Document{
			[]index.Field{
				{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(9)},
				{Name: "body", FieldType: index.TextFieldType, Value: []byte("This is a hello world. Business.")},
				{Name: "title", FieldType: index.TextFieldType, Value: []byte("Hello, world")},
				{Name: "rank", FieldType: index.NumericFieldType, Value: index.NumericValue(2)},
			},
			[]index.Field{
				{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(3)},
				{Name: "body", FieldType: index.TextFieldType, Value: []byte("After years of struggling to stay afloat, a beloved local business... business world")},
				{Name: "title", FieldType: index.TextFieldType, Value: []byte("Local Business Closes its Doors")},
				{Name: "rank", FieldType: index.NumericFieldType, Value: index.NumericValue(4)},
			},
			[]index.Field{
				{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(89)},
				{Name: "body", FieldType: index.TextFieldType, Value: []byte("This is an apple. This is an orange. This is a car.")},
				{Name: "title", FieldType: index.TextFieldType, Value: []byte("This is")},
				{Name: "rank", FieldType: index.NumericFieldType, Value: index.NumericValue(1)},
			},
		}

		require.NoError(t, indexWriter.AddDocuments(docs))
	}

	{
		docs := []index.Document{
			[]index.Field{
				{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(34)},
				{Name: "body", FieldType: index.TextFieldType, Value: []byte("Roger that")},
				{Name: "title", FieldType: index.TextFieldType, Value: []byte("Ok, this is ok")},
				{Name: "rank", FieldType: index.NumericFieldType, Value: index.NumericValue(3)},
			},
		}

		require.NoError(t, indexWriter.AddDocuments(docs))
	}

	indexReader, err := index.NewIndexReader(directory)
	require.NoError(t, err)
	t.Cleanup(func() { indexReader.Close() })

	return indexReader
}

// initSegmentedIndex writes segments docs per segment; every document
// contains "common", one in three contains "fizz".
func initSegmentedIndex(t *testing.T, segments, docsPerSegment int) *index.IndexReader {
	directory := t.TempDir()
	indexWriter := index.NewIndexWriter(directory)

	id := uint64(0)
	for s := 0; s < segments; s++ {
		docs := make([]index.Document, 0, docsPerSegment)
		for d := 0; d < docsPerSegment; d++ {
			body := fmt.Sprintf("common word%d", id%7)
			if id%3 == 0 {
				body += " fizz"
			}
			if id%5 == 0 {
				body += " fizz fizz"
			}

			docs = append(docs, index.Document{
				{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(id)},
				{Name: "body", FieldType: index.TextFieldType, Value: []byte(body)},
			})
			id++
		}
		require.NoError(t, indexWriter.AddDocuments(docs))
	}

	indexReader, err := index.NewIndexReader(directory)
	require.NoError(t, err)
	t.Cleanup(func() { indexReader.Close() })

	return indexReader
}

func idsOf(t *testing.T, reader *index.IndexReader, scoreDocs []collect.ScoreDoc) []uint64 {
	ids := make([]uint64, len(scoreDocs))
	for i, scoreDoc := range scoreDocs {
		segment, local, err := reader.Segment(scoreDoc.Doc)
		require.NoError(t, err)

		value, err := segment.StoredValue("id", local)
		require.NoError(t, err)

		ids[i] = binary.BigEndian.Uint64(value)
	}
	return ids
}

func topDocs(t *testing.T, searcher *search.Searcher, q query.Query, numHits int) *collect.TopDocs {
	manager := collect.NewTopScoreDocsManager(numHits, math.MaxUint64, nil)
	result, err := search.Collect(context.Background(), searcher, q, collect.Manager[*collect.TopDocsCollector, *collect.TopDocs](manager))
	require.NoError(t, err)
	return result
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Fakes
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type recordingCollector struct {
	base      uint64
	docs      []uint64
	stopAfter int
}

func (c *recordingCollector) Collect(doc index.DocumentId, scorer collect.Scorable) error {
	c.docs = append(c.docs, c.base+uint64(doc))
	if c.stopAfter > 0 && len(c.docs) >= c.stopAfter {
		return collect.ErrTerminated
	}
	return nil
}

type recordingManager struct {
	created   atomic.Int32
	reduced   atomic.Int32
	stopAfter int
}

func (m *recordingManager) NewCollector(segment *index.SegmentReader) (*recordingCollector, error) {
	m.created.Add(1)
	return &recordingCollector{base: segment.DocBase, stopAfter: m.stopAfter}, nil
}

func (m *recordingManager) Reduce(collectors []*recordingCollector) ([]uint64, error) {
	m.reduced.Add(1)

	docs := make([]uint64, 0)
	for _, collector := range collectors {
		docs = append(docs, collector.docs...)
	}
	return docs, nil
}

func (m *recordingManager) ScoreMode() collect.ScoreMode {
	return collect.ScoreModeNone
}

var recordingKey = collect.NewKey[*recordingCollector, []uint64]("recording")

type failingCollector struct {
	err error
}

func (c failingCollector) Collect(doc index.DocumentId, scorer collect.Scorable) error {
	return c.err
}

type failingManager struct {
	err error
}

func (m failingManager) NewCollector(segment *index.SegmentReader) (collect.Collector, error) {
	return failingCollector{err: m.err}, nil
}

func (m failingManager) Reduce(collectors []collect.Collector) (int, error) {
	return len(collectors), nil
}

func (m failingManager) ScoreMode() collect.ScoreMode {
	return collect.ScoreModeNone
}

type recordingMetrics struct {
	mutex    sync.Mutex
	searches []error
	timedOut []bool
	segments int
	visited  uint64
	reduces  int
}

func (m *recordingMetrics) RecordSearch(duration time.Duration, segments int, timedOut bool, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.searches = append(m.searches, err)
	m.timedOut = append(m.timedOut, timedOut)
}

func (m *recordingMetrics) RecordSegment(duration time.Duration, visited uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.segments++
	m.visited += visited
}

func (m *recordingMetrics) RecordReduce(duration time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reduces++
}

// steppingClock moves forward one millisecond every time it is read.
type steppingClock struct {
	reads atomic.Int64
}

func (c *steppingClock) Now() time.Time {
	return time.Unix(1000, 0).Add(time.Duration(c.reads.Add(1)-1) * time.Millisecond)
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Ranking
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func TestSearchTermQuery(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	result := topDocs(t, searcher, query.NewTermQuery("body", []byte("hello")), 10)

	assert.Equal(t, collect.TotalHits{Value: 1, Relation: collect.EqualTo}, result.TotalHits)
	assert.Equal(t, []uint64{9}, idsOf(t, indexReader, result.ScoreDocs))
}

func TestSearchTermFrequencyAndLength(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	result := topDocs(t, searcher, query.NewTermQuery("body", []byte("business")), 10)
	assert.Equal(t, []uint64{3, 9}, idsOf(t, indexReader, result.ScoreDocs))

	result = topDocs(t, searcher, query.NewTermQuery("title", []byte("is")), 10)
	assert.Equal(t, []uint64{89, 34}, idsOf(t, indexReader, result.ScoreDocs))
}

func TestSearchDeleteDocument(t *testing.T) {
	directory := t.TempDir()
	indexWriter := index.NewIndexWriter(directory)
	require.NoError(t, indexWriter.AddDocuments([]index.Document{
		{
			{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(89)},
			{Name: "title", FieldType: index.TextFieldType, Value: []byte("This is")},
		},
		{
			{Name: "id", FieldType: index.ByteFieldType, Value: utils.Uint64ToBytes(34)},
			{Name: "title", FieldType: index.TextFieldType, Value: []byte("Ok, this is ok")},
		},
	}))
	require.NoError(t, indexWriter.DeleteDocuments("id", [][]byte{utils.Uint64ToBytes(89)}))

	indexReader, err := index.NewIndexReader(directory)
	require.NoError(t, err)
	defer indexReader.Close()

	result := topDocs(t, search.NewSearcher(indexReader), query.NewTermQuery("title", []byte("is")), 10)

	assert.Equal(t, uint64(1), result.TotalHits.Value)
	assert.Equal(t, []uint64{34}, idsOf(t, indexReader, result.ScoreDocs))
}

func TestSearchAcrossTwoFields(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	q := query.NewBooleanQuery(
		&query.BooleanClause{Type: query.Should, Query: query.NewTermQuery("title", []byte("is"))},
		&query.BooleanClause{Type: query.Should, Query: query.NewTermQuery("body", []byte("is"))},
	)

	result := topDocs(t, searcher, q, 10)

	assert.Equal(t, []uint64{89, 9, 34}, idsOf(t, indexReader, result.ScoreDocs))
}

func TestSearchMatchAll(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	result := topDocs(t, searcher, query.NewMatchAllQuery(), 2)

	assert.Equal(t, uint64(4), result.TotalHits.Value)
	// Constant scores rank by doc id.
	assert.Equal(t, []uint64{9, 3}, idsOf(t, indexReader, result.ScoreDocs))
}

func TestSearchParallelMatchesSequential(t *testing.T) {
	indexReader := initSegmentedIndex(t, 8, 25)
	q := query.NewMatchQuery("body", "fizz word3")

	sequential := topDocs(t, search.NewSearcher(indexReader), q, 20)
	parallel := topDocs(t, search.NewSearcher(indexReader, search.WithParallelism(4)), q, 20)

	assert.Equal(t, sequential.TotalHits, parallel.TotalHits)
	assert.Equal(t, sequential.ScoreDocs, parallel.ScoreDocs)
	assert.Len(t, parallel.ScoreDocs, 20)
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Execution
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func TestCollectOnePassPerSegment(t *testing.T) {
	indexReader := initSegmentedIndex(t, 5, 10)
	searcher := search.NewSearcher(indexReader, search.WithParallelism(3))

	first := &recordingManager{}
	second := &recordingManager{}
	secondKey := collect.NewKey[*recordingCollector, []uint64]("recording_2")

	builder := collect.NewMultiBuilder()
	require.NoError(t, collect.Add(builder, recordingKey, collect.Manager[*recordingCollector, []uint64](first)))
	require.NoError(t, collect.Add(builder, secondKey, collect.Manager[*recordingCollector, []uint64](second)))
	require.NoError(t, collect.Add(builder, collect.TotalHitCountKey, collect.Manager[*collect.TotalHitCountCollector, collect.TotalHits](collect.NewTotalHitCountManager(nil))))

	results, err := search.Collect(context.Background(), searcher, query.NewTermQuery("body", []byte("common")), collect.Manager[collect.Collector, *collect.Results](builder.Build()))
	require.NoError(t, err)

	assert.Equal(t, int32(5), first.created.Load())
	assert.Equal(t, int32(5), second.created.Load())
	assert.Equal(t, int32(1), first.reduced.Load())
	assert.Equal(t, int32(1), second.reduced.Load())

	expected := make([]uint64, 50)
	for i := range expected {
		expected[i] = uint64(i)
	}

	docs, ok := collect.Get(results, recordingKey)
	require.True(t, ok)
	assert.Equal(t, expected, docs)

	docs, ok = collect.Get(results, secondKey)
	require.True(t, ok)
	assert.Equal(t, expected, docs)

	count, ok := collect.Get(results, collect.TotalHitCountKey)
	require.True(t, ok)
	assert.Equal(t, collect.TotalHits{Value: 50, Relation: collect.EqualTo}, count)
}

func TestCollectTerminationEndsOnlyTheSegment(t *testing.T) {
	indexReader := initSegmentedIndex(t, 3, 4)
	searcher := search.NewSearcher(indexReader)

	manager := &recordingManager{stopAfter: 2}
	docs, err := search.Collect(context.Background(), searcher, query.NewMatchAllQuery(), collect.Manager[*recordingCollector, []uint64](manager))
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 1, 4, 5, 8, 9}, docs)
}

func TestCollectPropagatesCollectorErrors(t *testing.T) {
	indexReader := initSegmentedIndex(t, 2, 3)
	metrics := &recordingMetrics{}
	searcher := search.NewSearcher(indexReader, search.WithMetrics(metrics))

	failure := errors.New("disk on fire")
	_, err := search.Collect(context.Background(), searcher, query.NewMatchAllQuery(), collect.Manager[collect.Collector, int](failingManager{err: failure}))
	assert.ErrorIs(t, err, failure)

	require.Len(t, metrics.searches, 1)
	assert.ErrorIs(t, metrics.searches[0], failure)
	assert.Zero(t, metrics.reduces)
}

func TestCollectCancelledContext(t *testing.T) {
	indexReader := initSegmentedIndex(t, 2, 3)
	searcher := search.NewSearcher(indexReader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := search.Collect(ctx, searcher, query.NewMatchAllQuery(), collect.Manager[*recordingCollector, []uint64](&recordingManager{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectRecordsMetrics(t *testing.T) {
	indexReader := initSegmentedIndex(t, 3, 5)
	metrics := &recordingMetrics{}
	searcher := search.NewSearcher(indexReader, search.WithMetrics(metrics))

	_, err := search.Collect(context.Background(), searcher, query.NewMatchAllQuery(), collect.Manager[*recordingCollector, []uint64](&recordingManager{}))
	require.NoError(t, err)

	assert.Equal(t, []error{nil}, metrics.searches)
	assert.Equal(t, []bool{false}, metrics.timedOut)
	assert.Equal(t, 3, metrics.segments)
	assert.Equal(t, uint64(15), metrics.visited)
	assert.Equal(t, 1, metrics.reduces)
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Timeouts
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func timeoutManager(deadline *collect.Deadline, recording *recordingManager) *collect.MultiManager {
	builder := collect.NewMultiBuilder().WithDeadline(deadline)
	_ = collect.Add(builder, recordingKey, collect.Manager[*recordingCollector, []uint64](recording))
	_ = collect.Add(builder, collect.TotalHitCountKey, collect.Manager[*collect.TotalHitCountCollector, collect.TotalHits](collect.NewTotalHitCountManager(deadline)))
	return builder.Build()
}

func TestCollectTimeoutReturnsPartialResults(t *testing.T) {
	indexReader := initSegmentedIndex(t, 3, 2)
	metrics := &recordingMetrics{}
	searcher := search.NewSearcher(indexReader, search.WithMetrics(metrics))

	clock := &steppingClock{}
	deadline := collect.NewDeadline(3*time.Millisecond, collect.WithClock(clock.Now), collect.WithCheckInterval(1))
	recording := &recordingManager{}
	manager := timeoutManager(deadline, recording)

	ctx := collect.WithDeadline(context.Background(), deadline)
	results, err := search.Collect(ctx, searcher, query.NewMatchAllQuery(), collect.Manager[collect.Collector, *collect.Results](manager))
	require.NoError(t, err)

	// Skipped segments still get a collector.
	assert.Equal(t, int32(3), recording.created.Load())

	docs, ok := collect.Get(results, recordingKey)
	require.True(t, ok)
	assert.Equal(t, []uint64{0}, docs)

	count, ok := collect.Get(results, collect.TotalHitCountKey)
	require.True(t, ok)
	assert.Equal(t, collect.TotalHits{Value: 1, Relation: collect.GreaterThanOrEqualTo}, count)

	assert.True(t, deadline.TimedOut())
	assert.Equal(t, []bool{true}, metrics.timedOut)
}

func TestCollectTimeoutFails(t *testing.T) {
	indexReader := initSegmentedIndex(t, 3, 2)
	searcher := search.NewSearcher(indexReader)

	clock := &steppingClock{}
	deadline := collect.NewDeadline(3*time.Millisecond, collect.WithClock(clock.Now), collect.WithCheckInterval(1), collect.FailOnTimeout())
	recording := &recordingManager{}
	manager := timeoutManager(deadline, recording)

	ctx := collect.WithDeadline(context.Background(), deadline)
	_, err := search.Collect(ctx, searcher, query.NewMatchAllQuery(), collect.Manager[collect.Collector, *collect.Results](manager))
	assert.ErrorIs(t, err, collect.ErrTimedOut)

	var timeoutErr *collect.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Fail)
	assert.Equal(t, 3*time.Millisecond, timeoutErr.Budget)

	// Reduce still ran once before the failure was reported.
	assert.Equal(t, int32(1), recording.reduced.Load())
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Rescore
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func TestRescore(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)
	q := query.NewTermQuery("body", []byte("business"))

	sort := collect.ByFields(collect.SortField{Field: "rank", Type: collect.SortNumeric})
	manager, err := collect.NewTopFieldDocsManager(indexReader, sort, 10, math.MaxUint64, false, nil)
	require.NoError(t, err)

	byRank, err := search.Collect(context.Background(), searcher, q, collect.Manager[*collect.TopDocsCollector, *collect.TopDocs](manager))
	require.NoError(t, err)
	require.Equal(t, []uint64{9, 3}, idsOf(t, indexReader, byRank.ScoreDocs))
	for _, scoreDoc := range byRank.ScoreDocs {
		assert.True(t, math.IsNaN(float64(scoreDoc.Score)))
	}

	rescored, err := searcher.Rescore(context.Background(), q, byRank.ScoreDocs)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 3}, idsOf(t, indexReader, rescored))

	byScore := topDocs(t, searcher, q, 10)
	scores := make(map[uint64]float32)
	for _, scoreDoc := range byScore.ScoreDocs {
		scores[scoreDoc.Doc] = scoreDoc.Score
	}

	for _, scoreDoc := range rescored {
		assert.InDelta(t, scores[scoreDoc.Doc], scoreDoc.Score, 1e-6)
	}

	// The input is left untouched.
	assert.True(t, math.IsNaN(float64(byRank.ScoreDocs[0].Score)))
}

func TestRescoreNonMatchingDocument(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	// Absolute doc 3 is id 34, in the second segment.
	hits := []collect.ScoreDoc{{Doc: 3, Score: float32(math.NaN())}, {Doc: 0, Score: float32(math.NaN())}}
	rescored, err := searcher.Rescore(context.Background(), query.NewTermQuery("body", []byte("hello")), hits)
	require.NoError(t, err)

	require.Len(t, rescored, 2)
	assert.Equal(t, float32(0), rescored[0].Score)
	assert.Greater(t, rescored[1].Score, float32(0))
}

func TestRescoreChecksDeadline(t *testing.T) {
	indexReader := initSimpleIndex(t)
	searcher := search.NewSearcher(indexReader)

	clock := &steppingClock{}
	deadline := collect.NewDeadline(time.Millisecond, collect.WithClock(clock.Now))
	ctx := collect.WithDeadline(context.Background(), deadline)

	_, err := searcher.Rescore(ctx, query.NewTermQuery("body", []byte("hello")), []collect.ScoreDoc{{Doc: 0}})
	assert.ErrorIs(t, err, collect.ErrTimedOut)
}
