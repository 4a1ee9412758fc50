// Package query compiles queries into per-segment scorers. A Query is
// rewritten against an index reader, turned into a Weight once per search,
// and the Weight hands out one Scorer per segment.
package query

import (
	"github.com/larose/harvest/search/index"
)

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Query
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type Query interface {
	// Rewrite returns a simpler equivalent query, or the query itself.
	Rewrite(reader *index.IndexReader) (Query, error)
	Weight(reader *index.IndexReader, needsScores bool) (Weight, error)
	String() string
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Weight
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type Weight interface {
	// Scorer returns nil when nothing can match in the segment.
	Scorer(segment *index.SegmentReader) (Scorer, error)
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Scorer
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Scorer iterates the matching local doc ids of a segment in increasing
// order. It is unpositioned until the first Next or Advance.
type Scorer interface {
	DocId() index.DocumentId
	Next() bool
	// Advance positions the scorer on the first match >= target. It does not
	// move when the scorer is already there.
	Advance(target index.DocumentId) bool
	Score() float32
}

// IsMatchAll reports whether a rewritten query matches every document.
func IsMatchAll(q Query) bool {
	_, ok := q.(*MatchAllQuery)
	return ok
}

// Rewrite rewrites until the query stops changing.
func Rewrite(q Query, reader *index.IndexReader) (Query, error) {
	for {
		rewritten, err := q.Rewrite(reader)
		if err != nil {
			return nil, err
		}

		if rewritten == q {
			return q, nil
		}

		q = rewritten
	}
}
