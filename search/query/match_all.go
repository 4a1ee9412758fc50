package query

import "github.com/larose/harvest/search/index"

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// MatchAllQuery
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// MatchAllQuery matches every document with a constant score of 1.
type MatchAllQuery struct {
}

func NewMatchAllQuery() *MatchAllQuery {
	return &MatchAllQuery{}
}

func (q *MatchAllQuery) Rewrite(reader *index.IndexReader) (Query, error) {
	return q, nil
}

func (q *MatchAllQuery) Weight(reader *index.IndexReader, needsScores bool) (Weight, error) {
	return matchAllWeight{}, nil
}

func (q *MatchAllQuery) String() string {
	return "*:*"
}

type matchAllWeight struct {
}

func (w matchAllWeight) Scorer(segment *index.SegmentReader) (Scorer, error) {
	if segment.MaxDoc == 0 {
		return nil, nil
	}

	return &matchAllScorer{maxDoc: segment.MaxDoc}, nil
}

type matchAllScorer struct {
	docId      index.DocumentId
	maxDoc     uint32
	positioned bool
}

func (s *matchAllScorer) DocId() index.DocumentId {
	return s.docId
}

func (s *matchAllScorer) Next() bool {
	if !s.positioned {
		s.positioned = true
		s.docId = 0
	} else {
		s.docId++
	}

	return uint32(s.docId) < s.maxDoc
}

func (s *matchAllScorer) Advance(target index.DocumentId) bool {
	if !s.positioned || s.docId < target {
		s.positioned = true
		s.docId = target
	}

	return uint32(s.docId) < s.maxDoc
}

func (s *matchAllScorer) Score() float32 {
	return 1
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// MatchNoneQuery
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type MatchNoneQuery struct {
}

func NewMatchNoneQuery() *MatchNoneQuery {
	return &MatchNoneQuery{}
}

func (q *MatchNoneQuery) Rewrite(reader *index.IndexReader) (Query, error) {
	return q, nil
}

func (q *MatchNoneQuery) Weight(reader *index.IndexReader, needsScores bool) (Weight, error) {
	return matchNoneWeight{}, nil
}

func (q *MatchNoneQuery) String() string {
	return "-*:*"
}

type matchNoneWeight struct {
}

func (w matchNoneWeight) Scorer(segment *index.SegmentReader) (Scorer, error) {
	return nil, nil
}
