package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/larose/harvest/search/utils"
)

var (
	ErrUnknownField     = errors.New("unknown field")
	ErrDocumentNotFound = errors.New("document not found")
)

// StoredFieldVisitor decides which stored fields of a document are loaded and
// receives their values. Values handed to StoredField are owned by the
// visitor.
type StoredFieldVisitor interface {
	NeedsField(name string) bool
	StoredField(field Field)
}

type SegmentReader struct {
	DeletedDocIds *roaring.Bitmap
	// DocBase is the absolute doc id of the first document of the segment.
	DocBase  uint64
	Id       uint32
	IdString string
	MaxDoc   uint32
	// Ord is the position of the segment in the index reader.
	Ord int

	directory        string
	meta             *segmentMeta
	roots            *roaring.Bitmap
	storedFieldNames []string

	mutex           sync.Mutex
	lengthReaders   map[string]*ArrayStoreReader
	nestedReader    *KVStoreReader
	pointReaders    map[string]*PointReader
	postingsReaders map[string]*KVStoreReader
	storeReader     *StoreReader
}

func openSegmentReader(directory string, segmentId uint32, deletedDocIds *roaring.Bitmap) (*SegmentReader, error) {
	segment := formatId(segmentId)

	meta, err := readSegmentMeta(directory, segment)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", segment, err)
	}

	roots, err := readRoots(directory, segment)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", segment, err)
	}

	storedFieldNames := make([]string, 0, len(meta.Fields))
	for name, info := range meta.Fields {
		if info.Stored {
			storedFieldNames = append(storedFieldNames, name)
		}
	}
	slices.Sort(storedFieldNames)

	reader := &SegmentReader{
		DeletedDocIds:    deletedDocIds,
		Id:               segmentId,
		IdString:         segment,
		MaxDoc:           meta.MaxDoc,
		directory:        directory,
		meta:             meta,
		roots:            roots,
		storedFieldNames: storedFieldNames,
		lengthReaders:    make(map[string]*ArrayStoreReader),
		pointReaders:     make(map[string]*PointReader),
		postingsReaders:  make(map[string]*KVStoreReader),
		storeReader:      newStoreReader(directory, segment, meta.Compression),
	}

	if meta.Nested {
		reader.nestedReader, err = newKVStoreReader(filepath.Join(directory, "segment."+segment+".nested"))
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", segment, err)
		}
	}

	return reader, nil
}

func formatId(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (reader *SegmentReader) GlobalDocId(docId DocumentId) uint64 {
	return reader.DocBase + uint64(docId)
}

func (reader *SegmentReader) FieldInfo(fieldName string) (FieldInfo, bool) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists {
		return FieldInfo{}, false
	}

	return *info, true
}

// FieldStats returns the number of documents with the field and the total
// number of terms indexed for it in this segment.
func (reader *SegmentReader) FieldStats(fieldName string) (uint32, uint64) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists {
		return 0, 0
	}

	return info.DocCount, info.SumTermFreq
}

// Postings returns the posting list of a term, or nil when the term does not
// occur in this segment.
func (reader *SegmentReader) Postings(fieldName string, term []byte) (*Postings, error) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists || !info.Indexed {
		return nil, nil
	}

	reader.mutex.Lock()
	kvStoreReader, exists := reader.postingsReaders[fieldName]
	if !exists {
		var err error
		kvStoreReader, err = newKVStoreReader(filepath.Join(reader.directory, "segment."+reader.IdString+"."+fieldName+".postings"))
		if err != nil {
			reader.mutex.Unlock()
			return nil, err
		}
		reader.postingsReaders[fieldName] = kvStoreReader
	}
	reader.mutex.Unlock()

	value := kvStoreReader.Get(term)
	if value == nil {
		return nil, nil
	}

	return decodePostings(value)
}

// FieldLengthReader returns the token count column of a text field, or nil.
func (reader *SegmentReader) FieldLengthReader(fieldName string) (*ArrayStoreReader, error) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists || !info.HasLengths {
		return nil, nil
	}

	reader.mutex.Lock()
	defer reader.mutex.Unlock()

	lengthReader, exists := reader.lengthReaders[fieldName]
	if !exists {
		var err error
		lengthReader, err = newArrayStoreReader(filepath.Join(reader.directory, "segment."+reader.IdString+"."+fieldName+".lengths"), fieldLengthSize)
		if err != nil {
			return nil, err
		}
		reader.lengthReaders[fieldName] = lengthReader
	}

	return lengthReader, nil
}

// Points returns the geo point column of a field, or nil when no document of
// this segment has a point for it.
func (reader *SegmentReader) Points(fieldName string) (*PointReader, error) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists || !info.HasPoints {
		return nil, nil
	}

	reader.mutex.Lock()
	defer reader.mutex.Unlock()

	pointReader, exists := reader.pointReaders[fieldName]
	if !exists {
		var err error
		pointReader, err = newPointReader(reader.directory, reader.IdString, fieldName)
		if err != nil {
			return nil, err
		}
		reader.pointReaders[fieldName] = pointReader
	}

	return pointReader, nil
}

// StoredValue returns a copy of the first stored value of a field, or nil.
func (reader *SegmentReader) StoredValue(fieldName string, docId DocumentId) ([]byte, error) {
	info, exists := reader.meta.Fields[fieldName]
	if !exists || !info.Stored {
		return nil, nil
	}

	fieldStoreReader, err := reader.storeReader.GetFieldStoreReader(fieldName)
	if err != nil {
		return nil, err
	}

	return fieldStoreReader.Value(docId)
}

// VisitDocument offers every stored field of the document to the visitor,
// in field name order, and loads the accepted ones.
func (reader *SegmentReader) VisitDocument(docId DocumentId, visitor StoredFieldVisitor) error {
	if uint32(docId) >= reader.MaxDoc {
		return fmt.Errorf("%w: %d in segment %s", ErrDocumentNotFound, docId, reader.IdString)
	}

	for _, fieldName := range reader.storedFieldNames {
		if !visitor.NeedsField(fieldName) {
			continue
		}

		fieldStoreReader, err := reader.storeReader.GetFieldStoreReader(fieldName)
		if err != nil {
			return err
		}

		fieldType := reader.meta.Fields[fieldName].Type
		err = fieldStoreReader.Values(docId, func(value []byte) {
			visitor.StoredField(Field{
				FieldType: fieldType,
				Name:      fieldName,
				Value:     slices.Clone(value),
			})
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (reader *SegmentReader) IsRoot(docId DocumentId) bool {
	return reader.roots.Contains(uint32(docId))
}

func (reader *SegmentReader) IsDeleted(docId DocumentId) bool {
	return reader.DeletedDocIds.Contains(uint32(docId))
}

// IsLive reports whether the document is a root document that was not
// deleted. Only live documents are visible to queries.
func (reader *SegmentReader) IsLive(docId DocumentId) bool {
	return reader.IsRoot(docId) && !reader.IsDeleted(docId)
}

// Children returns the range [first, end) of the nested documents of a root.
func (reader *SegmentReader) Children(root DocumentId) (DocumentId, DocumentId) {
	rank := reader.roots.Rank(uint32(root))
	if rank <= 1 {
		return 0, root
	}

	previous, err := reader.roots.Select(uint32(rank - 2))
	if err != nil {
		return root, root
	}

	return DocumentId(previous + 1), root
}

// NestedPath returns the nested path of a child document, or "" for roots.
func (reader *SegmentReader) NestedPath(docId DocumentId) string {
	if reader.nestedReader == nil {
		return ""
	}

	return string(reader.nestedReader.Get(utils.Uint32ToBytes(uint32(docId))))
}

// NumDocs returns the number of live root documents.
func (reader *SegmentReader) NumDocs() uint64 {
	return reader.roots.GetCardinality() - reader.roots.AndCardinality(reader.DeletedDocIds)
}

func (reader *SegmentReader) Close() error {
	reader.mutex.Lock()
	defer reader.mutex.Unlock()

	errs := make([]error, 0)
	for _, kvStoreReader := range reader.postingsReaders {
		errs = append(errs, kvStoreReader.Close())
	}
	for _, lengthReader := range reader.lengthReaders {
		errs = append(errs, lengthReader.Close())
	}
	for _, pointReader := range reader.pointReaders {
		errs = append(errs, pointReader.Close())
	}
	if reader.nestedReader != nil {
		errs = append(errs, reader.nestedReader.Close())
	}
	errs = append(errs, reader.storeReader.Close())

	return errors.Join(errs...)
}
