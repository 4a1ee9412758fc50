package collect

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strings"

	"github.com/larose/harvest/search/geo"
	"github.com/larose/harvest/search/index"
)

type SortType int

const (
	// SortScore orders by descending relevance.
	SortScore SortType = iota
	// SortIndexOrder orders by ascending absolute doc id.
	SortIndexOrder
	SortString
	SortNumeric
	// SortDistance orders by ascending distance between the field's geo point
	// and Center.
	SortDistance
)

func (t SortType) String() string {
	switch t {
	case SortScore:
		return "score"
	case SortIndexOrder:
		return "doc"
	case SortString:
		return "string"
	case SortNumeric:
		return "numeric"
	case SortDistance:
		return "distance"
	default:
		return "unknown"
	}
}

type SortField struct {
	Field   string
	Type    SortType
	Reverse bool
	Center  geo.Point
}

func (f SortField) String() string {
	var builder strings.Builder

	switch f.Type {
	case SortScore, SortIndexOrder:
		builder.WriteString("<" + f.Type.String() + ">")
	case SortDistance:
		fmt.Fprintf(&builder, "<distance %s from %s>", f.Field, f.Center)
	default:
		fmt.Fprintf(&builder, "<%s %s>", f.Type, f.Field)
	}

	if f.Reverse {
		builder.WriteString("!")
	}

	return builder.String()
}

// Sort is an ordered list of sort fields. An empty sort is relevance order.
type Sort struct {
	Fields []SortField
}

func ByRelevance() Sort {
	return Sort{}
}

func ByFields(fields ...SortField) Sort {
	return Sort{Fields: fields}
}

// IsRelevance reports whether the sort is a plain descending score sort.
func (s Sort) IsRelevance() bool {
	return len(s.Fields) == 0 || (len(s.Fields) == 1 && s.Fields[0].Type == SortScore && !s.Fields[0].Reverse)
}

// ScoreSlot returns the position of the first score sort field, or -1.
func (s Sort) ScoreSlot() int {
	for i, field := range s.Fields {
		if field.Type == SortScore {
			return i
		}
	}

	return -1
}

func (s Sort) NeedsScores() bool {
	return s.IsRelevance() || s.ScoreSlot() >= 0
}

func (s Sort) String() string {
	if len(s.Fields) == 0 {
		return "<score>"
	}

	parts := make([]string, len(s.Fields))
	for i, field := range s.Fields {
		parts[i] = field.String()
	}

	return strings.Join(parts, ",")
}

// Validate checks the sort against the fields of the index.
func (s Sort) Validate(reader *index.IndexReader) error {
	for _, field := range s.Fields {
		switch field.Type {
		case SortScore, SortIndexOrder:
			continue
		case SortString, SortNumeric, SortDistance:
		default:
			return fmt.Errorf("%w: unknown sort type %d", ErrInvalidSort, field.Type)
		}

		if field.Field == "" {
			return fmt.Errorf("%w: %s sort without field", ErrInvalidSort, field.Type)
		}

		fieldType, exists := reader.FieldType(field.Field)
		if !exists {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidSort, field.Field)
		}

		var expected []index.FieldType
		switch field.Type {
		case SortString:
			expected = []index.FieldType{index.ByteFieldType, index.TextFieldType}
		case SortNumeric:
			expected = []index.FieldType{index.NumericFieldType}
		case SortDistance:
			expected = []index.FieldType{index.GeoPointFieldType}
			if err := field.Center.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidSort, err)
			}
		}

		compatible := false
		for _, t := range expected {
			compatible = compatible || t == fieldType
		}
		if !compatible {
			return fmt.Errorf("%w: cannot sort %s field %q by %s", ErrInvalidSort, fieldType, field.Field, field.Type)
		}
	}

	return nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Sort values
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// SortValue is the value of one sort field for one hit. Numbers hold scores,
// numeric values and distances; Bytes holds string values.
type SortValue struct {
	Missing bool
	Number  float64
	Bytes   []byte
}

func compareSortValues(field SortField, a, b SortValue) int {
	// Missing values sort last whatever the direction.
	switch {
	case a.Missing && b.Missing:
		return 0
	case a.Missing:
		return 1
	case b.Missing:
		return -1
	}

	var c int
	switch field.Type {
	case SortScore:
		c = cmp.Compare(b.Number, a.Number)
	case SortString:
		c = bytes.Compare(a.Bytes, b.Bytes)
	default:
		c = cmp.Compare(a.Number, b.Number)
	}

	if field.Reverse {
		return -c
	}

	return c
}

// Comparator orders hits for a sort: negative when a ranks before b. Hits
// equal on every sort field are ordered by ascending absolute doc id.
type Comparator func(a, b *ScoreDoc) int

func (s Sort) Comparator() Comparator {
	// Relevance hits carry no sort values.
	if s.IsRelevance() {
		return compareByScore
	}

	fields := s.Fields
	return func(a, b *ScoreDoc) int {
		for i, field := range fields {
			if field.Type == SortIndexOrder {
				c := cmp.Compare(a.Doc, b.Doc)
				if field.Reverse {
					c = -c
				}
				if c != 0 {
					return c
				}
				continue
			}

			if c := compareSortValues(field, a.Fields[i], b.Fields[i]); c != 0 {
				return c
			}
		}

		return cmp.Compare(a.Doc, b.Doc)
	}
}

func compareByScore(a, b *ScoreDoc) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}

	return cmp.Compare(a.Doc, b.Doc)
}

// sortValueSource computes the value of one sort field within one segment.
type sortValueSource func(doc index.DocumentId, scorer Scorable) (SortValue, error)

func newSortValueSource(segment *index.SegmentReader, field SortField) (sortValueSource, error) {
	switch field.Type {
	case SortScore:
		return func(doc index.DocumentId, scorer Scorable) (SortValue, error) {
			return SortValue{Number: float64(scorer.Score())}, nil
		}, nil
	case SortIndexOrder:
		return func(doc index.DocumentId, scorer Scorable) (SortValue, error) {
			return SortValue{}, nil
		}, nil
	case SortString:
		return func(doc index.DocumentId, scorer Scorable) (SortValue, error) {
			value, err := segment.StoredValue(field.Field, doc)
			if err != nil || value == nil {
				return SortValue{Missing: true}, err
			}
			return SortValue{Bytes: value}, nil
		}, nil
	case SortNumeric:
		return func(doc index.DocumentId, scorer Scorable) (SortValue, error) {
			value, err := segment.StoredValue(field.Field, doc)
			if err != nil || len(value) != 8 {
				return SortValue{Missing: true}, err
			}
			return SortValue{Number: index.DecodeNumeric(value)}, nil
		}, nil
	case SortDistance:
		points, err := segment.Points(field.Field)
		if err != nil {
			return nil, err
		}
		return func(doc index.DocumentId, scorer Scorable) (SortValue, error) {
			point, exists := points.Point(doc)
			if !exists {
				return SortValue{Missing: true}, nil
			}
			return SortValue{Number: geo.Haversine(field.Center, point)}, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort type %d", ErrInvalidSort, field.Type)
	}
}

func isNaN32(f float32) bool {
	return math.IsNaN(float64(f))
}
