package query

import (
	"container/heap"
	"strings"

	"github.com/larose/harvest/search/index"
)

type MatchType byte

const (
	Should MatchType = iota
	Must
	MustNot
)

func (t MatchType) prefix() string {
	switch t {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

type BooleanClause struct {
	Type  MatchType
	Query Query
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// BooleanQuery
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// BooleanQuery matches the documents matching every Must clause, or at least
// one Should clause when there is no Must clause, and none of the MustNot
// clauses. Should clauses add to the score of documents they match.
type BooleanQuery struct {
	Clauses []*BooleanClause
}

func NewBooleanQuery(clauses ...*BooleanClause) *BooleanQuery {
	return &BooleanQuery{Clauses: clauses}
}

func (q *BooleanQuery) String() string {
	parts := make([]string, 0, len(q.Clauses))
	for _, clause := range q.Clauses {
		parts = append(parts, clause.Type.prefix()+clause.Query.String())
	}

	return "(" + strings.Join(parts, " ") + ")"
}

func (q *BooleanQuery) Rewrite(reader *index.IndexReader) (Query, error) {
	changed := false
	clauses := make([]*BooleanClause, 0, len(q.Clauses))

	for _, clause := range q.Clauses {
		rewritten, err := clause.Query.Rewrite(reader)
		if err != nil {
			return nil, err
		}
		if rewritten != clause.Query {
			changed = true
		}

		_, matchNone := rewritten.(*MatchNoneQuery)

		switch {
		case matchNone && clause.Type == Must:
			return NewMatchNoneQuery(), nil
		case IsMatchAll(rewritten) && clause.Type == MustNot:
			return NewMatchNoneQuery(), nil
		case matchNone:
			changed = true
			continue
		}

		clauses = append(clauses, &BooleanClause{Type: clause.Type, Query: rewritten})
	}

	positive := make([]*BooleanClause, 0, len(clauses))
	hasMustNot := false
	for _, clause := range clauses {
		if clause.Type == MustNot {
			hasMustNot = true
		} else {
			positive = append(positive, clause)
		}
	}

	if len(positive) == 0 {
		return NewMatchNoneQuery(), nil
	}

	if !hasMustNot {
		if len(positive) == 1 {
			return positive[0].Query, nil
		}

		allMatchAll := true
		for _, clause := range positive {
			allMatchAll = allMatchAll && IsMatchAll(clause.Query)
		}
		if allMatchAll {
			return NewMatchAllQuery(), nil
		}
	}

	if !changed {
		return q, nil
	}

	return &BooleanQuery{Clauses: clauses}, nil
}

func (q *BooleanQuery) Weight(reader *index.IndexReader, needsScores bool) (Weight, error) {
	weight := &booleanWeight{}

	for _, clause := range q.Clauses {
		clauseWeight, err := clause.Query.Weight(reader, needsScores && clause.Type != MustNot)
		if err != nil {
			return nil, err
		}

		switch clause.Type {
		case Must:
			weight.must = append(weight.must, clauseWeight)
		case MustNot:
			weight.mustNot = append(weight.mustNot, clauseWeight)
		default:
			weight.should = append(weight.should, clauseWeight)
		}
	}

	return weight, nil
}

type booleanWeight struct {
	must    []Weight
	mustNot []Weight
	should  []Weight
}

func scorers(weights []Weight, segment *index.SegmentReader) ([]Scorer, bool, error) {
	result := make([]Scorer, 0, len(weights))
	missing := false

	for _, weight := range weights {
		scorer, err := weight.Scorer(segment)
		if err != nil {
			return nil, false, err
		}

		if scorer == nil {
			missing = true
			continue
		}

		result = append(result, scorer)
	}

	return result, missing, nil
}

func (w *booleanWeight) Scorer(segment *index.SegmentReader) (Scorer, error) {
	must, missingMust, err := scorers(w.must, segment)
	if err != nil {
		return nil, err
	}
	if missingMust {
		return nil, nil
	}

	should, _, err := scorers(w.should, segment)
	if err != nil {
		return nil, err
	}

	mustNot, _, err := scorers(w.mustNot, segment)
	if err != nil {
		return nil, err
	}

	var required Scorer
	var optional []Scorer

	switch {
	case len(must) == 1:
		required = must[0]
		optional = should
	case len(must) > 1:
		required = &conjunctionScorer{scorers: must}
		optional = should
	case len(should) == 0:
		return nil, nil
	case len(should) == 1:
		required = should[0]
	default:
		required = &disjunctionScorer{scorers: should}
	}

	if len(optional) == 0 && len(mustNot) == 0 {
		return required, nil
	}

	return &booleanScorer{required: required, optional: optional, excluded: mustNot}, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// booleanScorer
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type booleanScorer struct {
	excluded []Scorer
	optional []Scorer
	required Scorer
}

func (s *booleanScorer) DocId() index.DocumentId {
	return s.required.DocId()
}

func (s *booleanScorer) Next() bool {
	if !s.required.Next() {
		return false
	}

	return s.skipExcluded()
}

func (s *booleanScorer) Advance(target index.DocumentId) bool {
	if !s.required.Advance(target) {
		return false
	}

	return s.skipExcluded()
}

func (s *booleanScorer) skipExcluded() bool {
	for {
		docId := s.required.DocId()

		excluded := false
		for _, scorer := range s.excluded {
			if scorer.Advance(docId) && scorer.DocId() == docId {
				excluded = true
				break
			}
		}

		if !excluded {
			return true
		}

		if !s.required.Next() {
			return false
		}
	}
}

func (s *booleanScorer) Score() float32 {
	docId := s.required.DocId()
	score := s.required.Score()

	for _, scorer := range s.optional {
		if scorer.Advance(docId) && scorer.DocId() == docId {
			score += scorer.Score()
		}
	}

	return score
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// conjunctionScorer
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type conjunctionScorer struct {
	scorers []Scorer
}

func (s *conjunctionScorer) DocId() index.DocumentId {
	return s.scorers[0].DocId()
}

func (s *conjunctionScorer) Next() bool {
	if !s.scorers[0].Next() {
		return false
	}

	return s.align()
}

func (s *conjunctionScorer) Advance(target index.DocumentId) bool {
	if !s.scorers[0].Advance(target) {
		return false
	}

	return s.align()
}

// align moves every scorer to the same doc id, leapfrogging on the lead.
func (s *conjunctionScorer) align() bool {
	lead := s.scorers[0]

	for {
		target := lead.DocId()
		aligned := true

		for _, scorer := range s.scorers[1:] {
			if !scorer.Advance(target) {
				return false
			}

			if scorer.DocId() > target {
				if !lead.Advance(scorer.DocId()) {
					return false
				}
				aligned = false
				break
			}
		}

		if aligned {
			return true
		}
	}
}

func (s *conjunctionScorer) Score() float32 {
	score := float32(0)
	for _, scorer := range s.scorers {
		score += scorer.Score()
	}

	return score
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// disjunctionScorer
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type disjunctionScorer struct {
	docId   index.DocumentId
	heap    scorerHeap
	scorers []Scorer
	started bool
}

func (s *disjunctionScorer) DocId() index.DocumentId {
	return s.docId
}

func (s *disjunctionScorer) start(target index.DocumentId) bool {
	s.started = true
	s.heap = make(scorerHeap, 0, len(s.scorers))

	for _, scorer := range s.scorers {
		if scorer.Advance(target) {
			s.heap = append(s.heap, scorer)
		}
	}
	heap.Init(&s.heap)

	return s.settle()
}

func (s *disjunctionScorer) settle() bool {
	if len(s.heap) == 0 {
		return false
	}

	s.docId = s.heap.top()
	return true
}

func (s *disjunctionScorer) Next() bool {
	if !s.started {
		return s.start(0)
	}

	if len(s.heap) == 0 {
		return false
	}

	current := s.docId
	for len(s.heap) > 0 && s.heap.top() == current {
		if s.heap[0].Next() {
			heap.Fix(&s.heap, 0)
		} else {
			heap.Pop(&s.heap)
		}
	}

	return s.settle()
}

func (s *disjunctionScorer) Advance(target index.DocumentId) bool {
	if !s.started {
		return s.start(target)
	}

	if len(s.heap) == 0 {
		return false
	}

	for len(s.heap) > 0 && s.heap.top() < target {
		if s.heap[0].Advance(target) {
			heap.Fix(&s.heap, 0)
		} else {
			heap.Pop(&s.heap)
		}
	}

	return s.settle()
}

func (s *disjunctionScorer) Score() float32 {
	score := float32(0)
	for _, scorer := range s.heap {
		if scorer.DocId() == s.docId {
			score += scorer.Score()
		}
	}

	return score
}
