package index

import (
	"encoding/binary"
	"math"

	"github.com/larose/harvest/search/geo"
)

type FieldType int

type DocumentId uint32

const (
	TextFieldType FieldType = iota
	ByteFieldType
	NumericFieldType
	GeoPointFieldType
	NestedFieldType
)

func (t FieldType) String() string {
	switch t {
	case TextFieldType:
		return "text"
	case ByteFieldType:
		return "bytes"
	case NumericFieldType:
		return "numeric"
	case GeoPointFieldType:
		return "geo_point"
	case NestedFieldType:
		return "nested"
	default:
		return "unknown"
	}
}

// Field is a single value of a document. Nested is only read for
// NestedFieldType fields: each nested document is written as a child of the
// document holding the field, and its fields are indexed under their full
// path (field "city" of nested field "address" becomes "address.city").
type Field struct {
	FieldType FieldType
	Name      string
	Value     []byte
	Nested    []Document
}

type Document []Field

// Get returns the first value of the field, or nil.
func (d Document) Get(name string) []byte {
	for _, field := range d {
		if field.Name == name {
			return field.Value
		}
	}

	return nil
}

func NumericValue(value float64) []byte {
	bits := math.Float64bits(value)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}

	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, bits)
	return b
}

func DecodeNumeric(value []byte) float64 {
	bits := binary.BigEndian.Uint64(value)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}

	return math.Float64frombits(bits)
}

func GeoPointValue(lat, lon float64) []byte {
	return geo.Encode(geo.Point{Lat: lat, Lon: lon})
}
