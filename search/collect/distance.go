package collect

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/larose/harvest/search/geo"
	"github.com/larose/harvest/search/index"
)

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// DistanceStore
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type distanceEntry struct {
	doc      uint64
	point    geo.Point
	complete bool
}

// DistanceStore holds, for every document a distance collector saw, the geo
// point of the document or a marker when it had none, in collection order.
// Distances are computed on read, for any center.
//
// Lookups scan forward from the last hit and wrap around to the beginning,
// which makes reads in increasing doc id order amortized O(1). The cursor
// makes a store unsafe for concurrent reads.
type DistanceStore struct {
	cursor  int
	entries []distanceEntry
}

func (s *DistanceStore) Len() int {
	return len(s.entries)
}

func (s *DistanceStore) add(doc uint64, point geo.Point, complete bool) {
	s.entries = append(s.entries, distanceEntry{doc: doc, point: point, complete: complete})
}

func (s *DistanceStore) find(doc uint64) (int, bool) {
	for i := s.cursor; i < len(s.entries); i++ {
		if s.entries[i].doc == doc {
			s.cursor = i
			return i, true
		}
	}

	for i := 0; i < s.cursor && i < len(s.entries); i++ {
		if s.entries[i].doc == doc {
			s.cursor = i
			return i, true
		}
	}

	return 0, false
}

// Distance returns the distance in meters between center and the point of
// doc, falling back to the point of the first of its nested documents that
// has one. It returns false when none of them had a point. A document neither
// collected itself nor through any nested document is an invariant
// violation: the scan never saw it.
//
// Nested documents are collected right before their root, so they are looked
// up first to keep the cursor moving forward.
func (s *DistanceStore) Distance(doc uint64, nested []uint64, center geo.Point) (float64, bool, error) {
	seen := false
	fallback := -1

	for _, nestedDoc := range nested {
		i, found := s.find(nestedDoc)
		if !found {
			continue
		}

		seen = true
		if fallback < 0 && s.entries[i].complete {
			fallback = i
		}
	}

	if i, found := s.find(doc); found {
		seen = true
		if entry := s.entries[i]; entry.complete {
			return geo.Haversine(center, entry.point), true, nil
		}
	}

	if fallback >= 0 {
		return geo.Haversine(center, s.entries[fallback].point), true, nil
	}

	if !seen {
		return 0, false, &DistanceLookupError{Doc: doc, Nested: nested}
	}

	return 0, false, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// DistanceCollector
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type DistanceCollector struct {
	points  *index.PointReader
	segment *index.SegmentReader
	store   DistanceStore
}

func (c *DistanceCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	point, exists := c.points.Point(doc)
	c.store.add(c.segment.GlobalDocId(doc), point, exists)
	return nil
}

// DistanceManager collects the geo points of one field for every visited
// document. Its collectors are meant to run over nested documents too.
type DistanceManager struct {
	field string
}

func NewDistanceManager(field string) *DistanceManager {
	return &DistanceManager{field: field}
}

func (m *DistanceManager) NewCollector(segment *index.SegmentReader) (*DistanceCollector, error) {
	points, err := segment.Points(m.field)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", segment.IdString, err)
	}

	return &DistanceCollector{points: points, segment: segment}, nil
}

// Reduce concatenates the segment stores in doc id order.
func (m *DistanceManager) Reduce(collectors []*DistanceCollector) (*DistanceStore, error) {
	sorted := slices.Clone(collectors)
	slices.SortFunc(sorted, func(a, b *DistanceCollector) int {
		return cmp.Compare(a.segment.DocBase, b.segment.DocBase)
	})

	size := 0
	for _, collector := range sorted {
		size += collector.store.Len()
	}

	store := &DistanceStore{entries: make([]distanceEntry, 0, size)}
	for _, collector := range sorted {
		store.entries = append(store.entries, collector.store.entries...)
	}

	return store, nil
}

func (m *DistanceManager) ScoreMode() ScoreMode {
	return ScoreModeNone
}

// NewDistanceKey returns a key for the distance store of a field. Each
// distance capability of an execution needs its own key.
func NewDistanceKey(field string) *Key[*DistanceCollector, *DistanceStore] {
	return NewKey[*DistanceCollector, *DistanceStore]("distance:" + field)
}

// DistanceFactory creates distance managers for a field, applied to nested
// documents.
func DistanceFactory(key *Key[*DistanceCollector, *DistanceStore], field string) Factory {
	return NewFactory(key, func(ctx FactoryContext) (Manager[*DistanceCollector, *DistanceStore], error) {
		fieldType, exists := ctx.Reader.FieldType(field)
		if exists && fieldType != index.GeoPointFieldType {
			return nil, fmt.Errorf("field %q is a %s field, not a geo point", field, fieldType)
		}
		return NewDistanceManager(field), nil
	}, ApplyToNested())
}
