package collect

import "github.com/larose/harvest/search/index"

// TotalHitCountKey is the key of the exact number of matching documents.
var TotalHitCountKey = NewKey[*TotalHitCountCollector, TotalHits]("total_hit_count")

type TotalHitCountCollector struct {
	count uint64
}

func (c *TotalHitCountCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	c.count++
	return nil
}

func (c *TotalHitCountCollector) Count() uint64 {
	return c.count
}

// TotalHitCountManager counts every matching document. After a timeout the
// count is only a lower bound.
type TotalHitCountManager struct {
	deadline *Deadline
}

func NewTotalHitCountManager(deadline *Deadline) *TotalHitCountManager {
	return &TotalHitCountManager{deadline: deadline}
}

func (m *TotalHitCountManager) NewCollector(segment *index.SegmentReader) (*TotalHitCountCollector, error) {
	return &TotalHitCountCollector{}, nil
}

func (m *TotalHitCountManager) Reduce(collectors []*TotalHitCountCollector) (TotalHits, error) {
	var total TotalHits
	for _, collector := range collectors {
		total.Value += collector.count
	}

	if m.deadline != nil && m.deadline.TimedOut() {
		total.Relation = GreaterThanOrEqualTo
	}

	return total, nil
}

func (m *TotalHitCountManager) ScoreMode() ScoreMode {
	return ScoreModeNone
}

// TotalHitCountFactory creates total hit count managers.
func TotalHitCountFactory() Factory {
	return NewFactory(TotalHitCountKey, func(ctx FactoryContext) (Manager[*TotalHitCountCollector, TotalHits], error) {
		return NewTotalHitCountManager(ctx.Deadline), nil
	})
}

// TopDocsFactory creates top docs managers for a sort, sized by the
// execution's MaxDocs.
func TopDocsFactory(sort Sort, threshold uint64, trackScores bool) Factory {
	return NewFactory(TopDocsKey, func(ctx FactoryContext) (Manager[*TopDocsCollector, *TopDocs], error) {
		if sort.IsRelevance() {
			return NewTopScoreDocsManager(ctx.MaxDocs, threshold, ctx.Deadline), nil
		}

		manager, err := NewTopFieldDocsManager(ctx.Reader, sort, ctx.MaxDocs, threshold, trackScores, ctx.Deadline)
		if err != nil {
			return nil, err
		}
		return manager, nil
	})
}
