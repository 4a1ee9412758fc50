package collect

import (
	"container/heap"
	"fmt"
	"math"
	"slices"

	"github.com/larose/harvest/search/index"
)

// TopDocsKey is the key of the ranked top results.
var TopDocsKey = NewKey[*TopDocsCollector, *TopDocs]("top_docs")

type TotalHitsRelation int

const (
	EqualTo TotalHitsRelation = iota
	// GreaterThanOrEqualTo means Value is a lower bound: counting stopped
	// early or the scan timed out.
	GreaterThanOrEqualTo
)

func (r TotalHitsRelation) String() string {
	if r == EqualTo {
		return "eq"
	}
	return "gte"
}

type TotalHits struct {
	Value    uint64
	Relation TotalHitsRelation
}

// ScoreDoc is one ranked hit. Doc is the absolute doc id. Score is NaN when
// scores were not tracked. Fields holds one value per sort field.
type ScoreDoc struct {
	Doc    uint64
	Score  float32
	Fields []SortValue
}

type TopDocs struct {
	TotalHits TotalHits
	ScoreDocs []ScoreDoc
	// TimedOut is set when the hits come from a scan cut short by the
	// deadline.
	TimedOut bool
}

// MaxScore returns the highest tracked score, or NaN.
func (t *TopDocs) MaxScore() float32 {
	maxScore := float32(math.NaN())
	for _, scoreDoc := range t.ScoreDocs {
		if isNaN32(scoreDoc.Score) {
			continue
		}
		if isNaN32(maxScore) || scoreDoc.Score > maxScore {
			maxScore = scoreDoc.Score
		}
	}
	return maxScore
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// hitQueue
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// hitQueue is a bounded heap keeping the worst retained hit on top.
type hitQueue struct {
	comparator Comparator
	items      []ScoreDoc
}

func (q *hitQueue) Len() int { return len(q.items) }

func (q *hitQueue) Less(i, j int) bool {
	return q.comparator(&q.items[i], &q.items[j]) > 0
}

func (q *hitQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *hitQueue) Push(item any) {
	q.items = append(q.items, item.(ScoreDoc))
}

func (q *hitQueue) Pop() any {
	old := q.items
	n := len(old)
	x := old[n-1]
	q.items = old[0 : n-1]
	return x
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// TopDocsCollector
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type TopDocsCollector struct {
	canTerminate bool
	numHits      int
	queue        *hitQueue
	scratch      []SortValue
	segment      *index.SegmentReader
	sources      []sortValueSource
	terminated   bool
	threshold    uint64
	totalHits    uint64
	trackScores  bool
}

func (c *TopDocsCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	c.totalHits++

	if c.numHits > 0 {
		candidate := ScoreDoc{
			Doc:   c.segment.GlobalDocId(doc),
			Score: float32(math.NaN()),
		}

		if c.trackScores {
			candidate.Score = scorer.Score()
		}

		if len(c.sources) > 0 {
			for i, source := range c.sources {
				value, err := source(doc, scorer)
				if err != nil {
					return err
				}
				c.scratch[i] = value
			}
			candidate.Fields = c.scratch
		}

		if c.queue.Len() < c.numHits {
			candidate.Fields = slices.Clone(candidate.Fields)
			heap.Push(c.queue, candidate)
		} else if c.queue.comparator(&candidate, &c.queue.items[0]) < 0 {
			candidate.Fields = slices.Clone(candidate.Fields)
			c.queue.items[0] = candidate
			heap.Fix(c.queue, 0)
		}
	}

	if c.canTerminate && c.queue.Len() >= c.numHits && c.totalHits >= c.threshold {
		c.terminated = true
		return ErrTerminated
	}

	return nil
}

// TotalHits returns the number of documents seen by this collector.
func (c *TopDocsCollector) TotalHits() uint64 {
	return c.totalHits
}

// TopDocs returns the hits of the segment in rank order.
func (c *TopDocsCollector) TopDocs() *TopDocs {
	scoreDocs := slices.Clone(c.queue.items)
	slices.SortFunc(scoreDocs, func(a, b ScoreDoc) int {
		return c.queue.comparator(&a, &b)
	})

	relation := EqualTo
	if c.terminated {
		relation = GreaterThanOrEqualTo
	}

	return &TopDocs{
		TotalHits: TotalHits{Value: c.totalHits, Relation: relation},
		ScoreDocs: scoreDocs,
	}
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// TopDocsManager
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// TopDocsManager ranks the matching documents by a sort and keeps the best
// numHits. Every matching document is counted; when the sort allows early
// termination, segments stop once numHits hits are retained and at least
// threshold documents were counted.
type TopDocsManager struct {
	comparator  Comparator
	deadline    *Deadline
	numHits     int
	sort        Sort
	threshold   uint64
	trackScores bool
}

// NewTopScoreDocsManager ranks by descending relevance.
func NewTopScoreDocsManager(numHits int, threshold uint64, deadline *Deadline) *TopDocsManager {
	return &TopDocsManager{
		comparator:  compareByScore,
		deadline:    deadline,
		numHits:     max(numHits, 0),
		threshold:   threshold,
		trackScores: true,
	}
}

// NewTopFieldDocsManager ranks by a field sort. Scores are only attached to
// the hits when trackScores is set or the sort uses them.
func NewTopFieldDocsManager(reader *index.IndexReader, sort Sort, numHits int, threshold uint64, trackScores bool, deadline *Deadline) (*TopDocsManager, error) {
	if err := sort.Validate(reader); err != nil {
		return nil, err
	}

	return &TopDocsManager{
		comparator:  sort.Comparator(),
		deadline:    deadline,
		numHits:     max(numHits, 0),
		sort:        sort,
		threshold:   threshold,
		trackScores: trackScores || sort.IsRelevance(),
	}, nil
}

func (m *TopDocsManager) Sort() Sort {
	return m.sort
}

func (m *TopDocsManager) NumHits() int {
	return m.numHits
}

// TracksScores reports whether collected hits carry their score.
func (m *TopDocsManager) TracksScores() bool {
	return m.trackScores
}

func (m *TopDocsManager) ScoreMode() ScoreMode {
	if m.trackScores || m.sort.NeedsScores() {
		return ScoreModeComplete
	}
	return ScoreModeNone
}

func (m *TopDocsManager) canTerminate() bool {
	return len(m.sort.Fields) > 0 && m.sort.Fields[0].Type == SortIndexOrder && !m.sort.Fields[0].Reverse
}

func (m *TopDocsManager) NewCollector(segment *index.SegmentReader) (*TopDocsCollector, error) {
	collector := &TopDocsCollector{
		canTerminate: m.canTerminate(),
		numHits:      m.numHits,
		queue: &hitQueue{
			comparator: m.comparator,
			items:      make([]ScoreDoc, 0, min(m.numHits, 1024)),
		},
		segment:     segment,
		threshold:   m.threshold,
		trackScores: m.trackScores,
	}

	if len(m.sort.Fields) > 0 {
		collector.sources = make([]sortValueSource, len(m.sort.Fields))
		collector.scratch = make([]SortValue, len(m.sort.Fields))

		for i, field := range m.sort.Fields {
			source, err := newSortValueSource(segment, field)
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", segment.IdString, err)
			}
			collector.sources[i] = source
		}
	}

	return collector, nil
}

func (m *TopDocsManager) Reduce(collectors []*TopDocsCollector) (*TopDocs, error) {
	shards := make([]*TopDocs, len(collectors))
	for i, collector := range collectors {
		shards[i] = collector.TopDocs()
	}

	merged := mergeTopDocs(m.comparator, 0, m.numHits, shards)

	if m.deadline != nil && m.deadline.TimedOut() {
		merged.TimedOut = true
		merged.TotalHits.Relation = GreaterThanOrEqualTo
	}

	return merged, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Merge
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type shardCursor struct {
	shard    int
	position int
}

type shardQueue struct {
	comparator Comparator
	cursors    []shardCursor
	shards     []*TopDocs
}

func (q *shardQueue) hit(i int) *ScoreDoc {
	cursor := q.cursors[i]
	return &q.shards[cursor.shard].ScoreDocs[cursor.position]
}

func (q *shardQueue) Len() int { return len(q.cursors) }

func (q *shardQueue) Less(i, j int) bool {
	return q.comparator(q.hit(i), q.hit(j)) < 0
}

func (q *shardQueue) Swap(i, j int) {
	q.cursors[i], q.cursors[j] = q.cursors[j], q.cursors[i]
}

func (q *shardQueue) Push(item any) {
	q.cursors = append(q.cursors, item.(shardCursor))
}

func (q *shardQueue) Pop() any {
	old := q.cursors
	n := len(old)
	x := old[n-1]
	q.cursors = old[0 : n-1]
	return x
}

// MergeTopDocs merges per-segment ranked hits, each already in rank order,
// into the global ranking and returns the size hits starting at start.
// Offsets must be applied here, after the merge, never per segment.
func MergeTopDocs(sort Sort, start, size int, shards []*TopDocs) *TopDocs {
	return mergeTopDocs(sort.Comparator(), start, size, shards)
}

func mergeTopDocs(comparator Comparator, start, size int, shards []*TopDocs) *TopDocs {
	merged := &TopDocs{ScoreDocs: make([]ScoreDoc, 0, min(max(size, 0), 1024))}

	queue := &shardQueue{comparator: comparator, shards: shards}
	for i, shard := range shards {
		if shard == nil {
			continue
		}

		merged.TotalHits.Value += shard.TotalHits.Value
		if shard.TotalHits.Relation == GreaterThanOrEqualTo {
			merged.TotalHits.Relation = GreaterThanOrEqualTo
		}
		merged.TimedOut = merged.TimedOut || shard.TimedOut

		if len(shard.ScoreDocs) > 0 {
			queue.cursors = append(queue.cursors, shardCursor{shard: i})
		}
	}
	heap.Init(queue)

	for rank := 0; queue.Len() > 0 && rank < start+size; rank++ {
		if rank >= start {
			merged.ScoreDocs = append(merged.ScoreDocs, *queue.hit(0))
		}

		queue.cursors[0].position++
		if queue.cursors[0].position < len(shards[queue.cursors[0].shard].ScoreDocs) {
			heap.Fix(queue, 0)
		} else {
			heap.Pop(queue)
		}
	}

	return merged
}
