package query

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/larose/harvest/search/index"
)

const (
	Bm25K1 = 1.2
	Bm25B  = 0.75
)

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// TermQuery
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// TermQuery matches the documents holding an exact term. Text fields are
// indexed lowercased and tokenized; use NewMatchQuery to query them with
// free text.
type TermQuery struct {
	FieldName string
	Term      []byte
}

func NewTermQuery(fieldName string, term []byte) *TermQuery {
	return &TermQuery{FieldName: fieldName, Term: term}
}

// NewMatchQuery analyzes text like a text field and matches any of its terms.
func NewMatchQuery(fieldName, text string) Query {
	terms := index.Analyze(text)

	clauses := make([]*BooleanClause, 0, len(terms))
	for _, term := range terms {
		clauses = append(clauses, &BooleanClause{Type: Should, Query: NewTermQuery(fieldName, []byte(term))})
	}

	return &BooleanQuery{Clauses: clauses}
}

func (q *TermQuery) Rewrite(reader *index.IndexReader) (Query, error) {
	return q, nil
}

func (q *TermQuery) String() string {
	return fmt.Sprintf("%s:%s", q.FieldName, q.Term)
}

// Weight looks the term up in every segment and computes the BM25 statistics
// over the whole index so that scores are comparable across segments.
func (q *TermQuery) Weight(reader *index.IndexReader, needsScores bool) (Weight, error) {
	weight := &termWeight{
		fieldName:   q.FieldName,
		needsScores: needsScores,
		postings:    make([]*index.Postings, len(reader.Segments)),
	}

	var docCount, docFreq, sumTermFreq uint64

	for i, segment := range reader.Segments {
		postings, err := segment.Postings(q.FieldName, q.Term)
		if err != nil {
			return nil, err
		}

		weight.postings[i] = postings

		segmentDocCount, segmentSumTermFreq := segment.FieldStats(q.FieldName)
		docCount += uint64(segmentDocCount)
		sumTermFreq += segmentSumTermFreq

		if postings != nil {
			docFreq += uint64(postings.DocFreq())
		}
	}

	weight.idf = float32(math.Log(1 + (float64(docCount)-float64(docFreq)+0.5)/(float64(docFreq)+0.5)))
	if docCount > 0 {
		weight.averageFieldLength = float32(sumTermFreq) / float32(docCount)
	}

	return weight, nil
}

type termWeight struct {
	averageFieldLength float32
	fieldName          string
	idf                float32
	needsScores        bool
	// postings[segment.Ord]
	postings []*index.Postings
}

func (w *termWeight) Scorer(segment *index.SegmentReader) (Scorer, error) {
	if segment.Ord >= len(w.postings) || w.postings[segment.Ord] == nil {
		return nil, nil
	}

	scorer := &termScorer{
		averageFieldLength: w.averageFieldLength,
		idf:                w.idf,
		it:                 w.postings[segment.Ord].Iterator(),
		needsScores:        w.needsScores,
	}

	if w.needsScores {
		lengths, err := segment.FieldLengthReader(w.fieldName)
		if err != nil {
			return nil, err
		}
		scorer.lengths = lengths
	}

	return scorer, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// termScorer
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type termScorer struct {
	averageFieldLength float32
	exhausted          bool
	idf                float32
	it                 *index.PostingsIterator
	lengths            *index.ArrayStoreReader
	needsScores        bool
	positioned         bool
}

func (s *termScorer) DocId() index.DocumentId {
	return s.it.DocId()
}

func (s *termScorer) Next() bool {
	if s.exhausted {
		return false
	}

	s.positioned = true
	if !s.it.Next() {
		s.exhausted = true
		return false
	}

	return true
}

func (s *termScorer) Advance(target index.DocumentId) bool {
	if s.exhausted {
		return false
	}

	if s.positioned && s.it.DocId() >= target {
		return true
	}

	s.positioned = true
	if !s.it.Advance(target) {
		s.exhausted = true
		return false
	}

	return true
}

func (s *termScorer) Score() float32 {
	if !s.needsScores {
		return 0
	}

	freq := float32(s.it.Freq())

	norm := float32(Bm25K1)
	if s.lengths != nil && s.averageFieldLength > 0 {
		length := float32(binary.BigEndian.Uint32(s.lengths.Get(uint32(s.it.DocId()))))
		norm = Bm25K1 * (1 - Bm25B + Bm25B*(length/s.averageFieldLength))
	}

	return s.idf * freq / (freq + norm)
}
