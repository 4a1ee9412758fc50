package search

import (
	"cmp"
	"context"
	"slices"

	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
	"github.com/larose/harvest/search/query"
)

// Rescore computes the relevance score of the given hits against q, which
// must already be rewritten. Hits keep their order; a hit q does not match
// gets a score of 0. The deadline of the context, if any, is checked between
// segments: a second pass is charged against the budget of the query.
func (s *Searcher) Rescore(ctx context.Context, q query.Query, scoreDocs []collect.ScoreDoc) ([]collect.ScoreDoc, error) {
	rescored := slices.Clone(scoreDocs)
	if len(rescored) == 0 {
		return rescored, nil
	}

	weight, err := q.Weight(s.reader, true)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(rescored))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return cmp.Compare(rescored[a].Doc, rescored[b].Doc)
	})

	deadline := collect.DeadlineFromContext(ctx)

	var segment *index.SegmentReader
	var scorer query.Scorer

	for _, i := range order {
		doc := rescored[i].Doc

		if segment == nil || doc >= segment.DocBase+uint64(segment.MaxDoc) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := deadline.Check(); err != nil {
				return nil, err
			}

			segment, _, err = s.reader.Segment(doc)
			if err != nil {
				return nil, err
			}

			scorer, err = weight.Scorer(segment)
			if err != nil {
				return nil, err
			}
		}

		rescored[i].Score = 0
		local := index.DocumentId(doc - segment.DocBase)
		if scorer != nil && scorer.Advance(local) && scorer.DocId() == local {
			rescored[i].Score = scorer.Score()
		}
	}

	return rescored, nil
}
