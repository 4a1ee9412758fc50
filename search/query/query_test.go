package query

import (
	"testing"

	"github.com/larose/harvest/search/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, batches ...[]string) *index.IndexReader {
	t.Helper()

	directory := t.TempDir()
	writer := index.NewIndexWriter(directory)

	for _, batch := range batches {
		docs := make([]index.Document, 0, len(batch))
		for _, text := range batch {
			docs = append(docs, index.Document{
				{FieldType: index.TextFieldType, Name: "body", Value: []byte(text)},
			})
		}
		require.NoError(t, writer.AddDocuments(docs))
	}

	reader, err := index.NewIndexReader(directory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	return reader
}

type match struct {
	doc   uint64
	score float32
}

func run(t *testing.T, reader *index.IndexReader, q Query) []match {
	t.Helper()

	q, err := Rewrite(q, reader)
	require.NoError(t, err)

	weight, err := q.Weight(reader, true)
	require.NoError(t, err)

	matches := make([]match, 0)
	for _, segment := range reader.Segments {
		scorer, err := weight.Scorer(segment)
		require.NoError(t, err)
		if scorer == nil {
			continue
		}

		for scorer.Next() {
			matches = append(matches, match{doc: segment.GlobalDocId(scorer.DocId()), score: scorer.Score()})
		}
	}

	return matches
}

func docs(matches []match) []uint64 {
	result := make([]uint64, len(matches))
	for i, m := range matches {
		result[i] = m.doc
	}
	return result
}

func TestTermQuery(t *testing.T) {
	reader := newTestReader(t,
		[]string{"red apple", "green apple apple", "red car"},
		[]string{"blue car", "red red red"},
	)

	matches := run(t, reader, NewTermQuery("body", []byte("red")))
	assert.Equal(t, []uint64{0, 2, 4}, docs(matches))
	for _, m := range matches {
		assert.Greater(t, m.score, float32(0))
	}
	assert.Greater(t, matches[2].score, matches[0].score)

	apple := run(t, reader, NewTermQuery("body", []byte("apple")))
	assert.Equal(t, []uint64{0, 1}, docs(apple))

	assert.Empty(t, run(t, reader, NewTermQuery("body", []byte("missing"))))
	assert.Empty(t, run(t, reader, NewTermQuery("missing", []byte("red"))))
}

func TestBooleanQuery(t *testing.T) {
	reader := newTestReader(t,
		[]string{"red apple", "green apple", "red car"},
		[]string{"blue car", "red apple pie"},
	)

	red := NewTermQuery("body", []byte("red"))
	apple := NewTermQuery("body", []byte("apple"))
	car := NewTermQuery("body", []byte("car"))

	must := NewBooleanQuery(&BooleanClause{Type: Must, Query: red}, &BooleanClause{Type: Must, Query: apple})
	assert.Equal(t, []uint64{0, 4}, docs(run(t, reader, must)))

	should := NewBooleanQuery(&BooleanClause{Type: Should, Query: apple}, &BooleanClause{Type: Should, Query: car})
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, docs(run(t, reader, should)))

	mustNot := NewBooleanQuery(&BooleanClause{Type: Should, Query: red}, &BooleanClause{Type: MustNot, Query: apple})
	assert.Equal(t, []uint64{2}, docs(run(t, reader, mustNot)))

	// Should clauses only boost when a Must clause exists.
	boosted := NewBooleanQuery(&BooleanClause{Type: Must, Query: red}, &BooleanClause{Type: Should, Query: car})
	matches := run(t, reader, boosted)
	require.Equal(t, []uint64{0, 2, 4}, docs(matches))
	assert.Greater(t, matches[1].score, matches[0].score)
}

func TestMatchQuery(t *testing.T) {
	reader := newTestReader(t, []string{"Red Apple", "green pear", "RED car"})

	assert.Equal(t, []uint64{0, 2}, docs(run(t, reader, NewMatchQuery("body", "red!"))))
	assert.Equal(t, []uint64{0, 1}, docs(run(t, reader, NewMatchQuery("body", "apple, pear"))))
}

func TestMatchAllQuery(t *testing.T) {
	reader := newTestReader(t, []string{"a", "b"}, []string{"c"})

	matches := run(t, reader, NewMatchAllQuery())
	assert.Equal(t, []uint64{0, 1, 2}, docs(matches))
	assert.Equal(t, float32(1), matches[0].score)

	assert.Empty(t, run(t, reader, NewMatchNoneQuery()))
}

func TestRewrite(t *testing.T) {
	reader := newTestReader(t, []string{"a"})
	term := NewTermQuery("body", []byte("a"))

	rewritten, err := Rewrite(NewBooleanQuery(&BooleanClause{Type: Must, Query: term}), reader)
	require.NoError(t, err)
	assert.Same(t, term, rewritten)

	rewritten, err = Rewrite(NewBooleanQuery(
		&BooleanClause{Type: Must, Query: NewMatchAllQuery()},
		&BooleanClause{Type: Should, Query: NewBooleanQuery(&BooleanClause{Type: Must, Query: NewMatchAllQuery()})},
	), reader)
	require.NoError(t, err)
	assert.True(t, IsMatchAll(rewritten))

	rewritten, err = Rewrite(NewBooleanQuery(&BooleanClause{Type: MustNot, Query: term}), reader)
	require.NoError(t, err)
	assert.IsType(t, &MatchNoneQuery{}, rewritten)

	rewritten, err = Rewrite(NewBooleanQuery(
		&BooleanClause{Type: Must, Query: term},
		&BooleanClause{Type: Must, Query: NewMatchNoneQuery()},
	), reader)
	require.NoError(t, err)
	assert.IsType(t, &MatchNoneQuery{}, rewritten)

	rewritten, err = Rewrite(NewBooleanQuery(
		&BooleanClause{Type: Should, Query: term},
		&BooleanClause{Type: Should, Query: NewMatchNoneQuery()},
	), reader)
	require.NoError(t, err)
	assert.Same(t, term, rewritten)

	rewritten, err = Rewrite(NewBooleanQuery(
		&BooleanClause{Type: Must, Query: NewMatchAllQuery()},
		&BooleanClause{Type: MustNot, Query: term},
	), reader)
	require.NoError(t, err)
	assert.False(t, IsMatchAll(rewritten))
	assert.Equal(t, "(+*:* -body:a)", rewritten.String())
}
