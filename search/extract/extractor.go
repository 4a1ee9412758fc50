package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/geo"
	"github.com/larose/harvest/search/index"
)

// Hit is one materialized result.
type Hit struct {
	Doc   uint64
	Score float32
	// Fields holds the sort values of the hit.
	Fields []collect.SortValue
	// Document holds the loaded stored fields, the fields of the required
	// nested documents included. It is empty, not nil, when nothing was
	// loaded.
	Document index.Document
}

// HitExtractor projects a hit into a caller value. Contribute* declare what
// the extraction needs before the plan is built; Extract runs per hit once
// the plan was collected.
type HitExtractor interface {
	ContributeCollectors(builder *RequirementsBuilder)
	ContributeFields(builder *RequirementsBuilder)
	Extract(plan *Collectors, hit *Hit) (any, error)
}

// Contribute adds the requirements of an extractor to a builder.
func Contribute(builder *RequirementsBuilder, extractor HitExtractor) *RequirementsBuilder {
	extractor.ContributeCollectors(builder)
	extractor.ContributeFields(builder)
	return builder
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Reference
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// Reference identifies a hit: its absolute doc id and the value of its id
// field, nil when the document has none.
type Reference struct {
	Doc uint64
	Id  []byte
}

type referenceExtractor struct {
	idField string
}

// ReferenceExtractor extracts a Reference built from the stored id field.
func ReferenceExtractor(idField string) HitExtractor {
	return &referenceExtractor{idField: idField}
}

func (e *referenceExtractor) ContributeCollectors(builder *RequirementsBuilder) {}

func (e *referenceExtractor) ContributeFields(builder *RequirementsBuilder) {
	builder.RequireStoredField(e.idField, "")
}

func (e *referenceExtractor) Extract(plan *Collectors, hit *Hit) (any, error) {
	return Reference{Doc: hit.Doc, Id: hit.Document.Get(e.idField)}, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Score
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type scoreExtractor struct{}

// ScoreExtractor extracts the relevance score of the hit as a float32.
func ScoreExtractor() HitExtractor {
	return scoreExtractor{}
}

func (scoreExtractor) ContributeCollectors(builder *RequirementsBuilder) {
	builder.RequireScore()
}

func (scoreExtractor) ContributeFields(builder *RequirementsBuilder) {}

func (scoreExtractor) Extract(plan *Collectors, hit *Hit) (any, error) {
	return hit.Score, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Field
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type fieldExtractor struct {
	nestedPath string
	path       string
}

// FieldExtractor extracts every stored value of a field as a [][]byte. A
// dotted path reads the field of nested documents: "offices.city" reads
// field city of the nested documents under offices.
func FieldExtractor(path string) HitExtractor {
	nestedPath := ""
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		nestedPath = path[:i]
	}

	return &fieldExtractor{nestedPath: nestedPath, path: path}
}

func (e *fieldExtractor) ContributeCollectors(builder *RequirementsBuilder) {}

func (e *fieldExtractor) ContributeFields(builder *RequirementsBuilder) {
	builder.RequireStoredField(e.path, e.nestedPath)
}

func (e *fieldExtractor) Extract(plan *Collectors, hit *Hit) (any, error) {
	values := make([][]byte, 0, 1)
	for _, field := range hit.Document {
		if field.Name == e.path {
			values = append(values, field.Value)
		}
	}

	return values, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Distance
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type distanceExtractor struct {
	center  geo.Point
	factory collect.Factory
	field   string
	key     *collect.Key[*collect.DistanceCollector, *collect.DistanceStore]
}

// DistanceExtractor extracts the distance in meters between center and the
// geo point of the hit, or of its first nested document having one. The
// value is a float64, or nil when no point exists.
func DistanceExtractor(field string, center geo.Point) HitExtractor {
	key := collect.NewDistanceKey(field)
	return &distanceExtractor{
		center:  center,
		factory: collect.DistanceFactory(key, field),
		field:   field,
		key:     key,
	}
}

func (e *distanceExtractor) ContributeCollectors(builder *RequirementsBuilder) {
	builder.RequireCollectorForAllMatchingDocs(e.factory)
}

func (e *distanceExtractor) ContributeFields(builder *RequirementsBuilder) {}

func (e *distanceExtractor) Extract(plan *Collectors, hit *Hit) (any, error) {
	store, ok := Result(plan, e.key)
	if !ok {
		return nil, fmt.Errorf("%w: no distances collected for %q", ErrInvalidRequirements, e.field)
	}

	nested, err := plan.searcher.Reader().NestedDocIds(hit.Doc, nil)
	if err != nil {
		return nil, err
	}

	distance, found, err := store.Distance(hit.Doc, nested, e.center)
	if err != nil || !found {
		return nil, err
	}

	return distance, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Composite
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type compositeExtractor struct {
	children []HitExtractor
}

// CompositeExtractor runs its children in order and extracts their values
// as a []any.
func CompositeExtractor(children ...HitExtractor) HitExtractor {
	return &compositeExtractor{children: slices.Clone(children)}
}

func (e *compositeExtractor) ContributeCollectors(builder *RequirementsBuilder) {
	for _, child := range e.children {
		child.ContributeCollectors(builder)
	}
}

func (e *compositeExtractor) ContributeFields(builder *RequirementsBuilder) {
	for _, child := range e.children {
		child.ContributeFields(builder)
	}
}

func (e *compositeExtractor) Extract(plan *Collectors, hit *Hit) (any, error) {
	values := make([]any, len(e.children))
	for i, child := range e.children {
		value, err := child.Extract(plan, hit)
		if err != nil {
			return nil, err
		}
		values[i] = value
	}

	return values, nil
}
