package index

import (
	"path/filepath"

	"github.com/larose/harvest/search/geo"
)

const pointElementSize = 1 + geo.EncodedSize

// pointsWriter keeps the first geo point of every document in a fixed-width
// column so distance computations can read it by doc id.
type pointsWriter struct {
	docId  DocumentId
	points map[string]map[DocumentId][]byte
}

func newPointsWriter() *pointsWriter {
	return &pointsWriter{
		points: make(map[string]map[DocumentId][]byte),
	}
}

func (w *pointsWriter) Doc(docId DocumentId) {
	w.docId = docId
}

func (w *pointsWriter) Field(field Field) {
	if field.FieldType != GeoPointFieldType || len(field.Value) != geo.EncodedSize {
		return
	}

	fieldPoints, exists := w.points[field.Name]
	if !exists {
		fieldPoints = make(map[DocumentId][]byte)
		w.points[field.Name] = fieldPoints
	}

	if _, exists := fieldPoints[w.docId]; !exists {
		fieldPoints[w.docId] = field.Value
	}
}

func (w *pointsWriter) Term(term []byte) {
}

func (w *pointsWriter) EndField() {
}

func (w *pointsWriter) Write(directory, segmentId string, meta *segmentMeta) error {
	element := make([]byte, pointElementSize)

	for fieldName, fieldPoints := range w.points {
		writer, err := newArrayStoreWriter(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".points"), pointElementSize)
		if err != nil {
			return err
		}

		for docId := DocumentId(0); uint32(docId) < meta.MaxDoc; docId++ {
			clear(element)
			if value, exists := fieldPoints[docId]; exists {
				element[0] = 1
				copy(element[1:], value)
			}

			if err := writer.Append(element); err != nil {
				_ = writer.Close()
				return err
			}
		}

		if err := writer.Close(); err != nil {
			return err
		}

		meta.field(fieldName).HasPoints = true
	}

	return nil
}

// PointReader reads the geo point column of one field in one segment.
type PointReader struct {
	store *ArrayStoreReader
}

func newPointReader(directory, segmentId, fieldName string) (*PointReader, error) {
	store, err := newArrayStoreReader(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".points"), pointElementSize)
	if err != nil {
		return nil, err
	}

	return &PointReader{store: store}, nil
}

// Point returns the decoded point of the document, if it has one.
func (reader *PointReader) Point(docId DocumentId) (geo.Point, bool) {
	if reader == nil || uint32(docId) >= reader.store.Len() {
		return geo.Point{}, false
	}

	element := reader.store.Get(uint32(docId))
	if element[0] == 0 {
		return geo.Point{}, false
	}

	return geo.Decode(element[1:]), true
}

func (reader *PointReader) Close() error {
	return reader.store.Close()
}
