package index

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/larose/harvest/search/utils"
)

// storeWriter keeps the original values of every stored field. A field may
// hold several values per document; they are packed as
// [length uint32][value] sequences under the document key.
type storeWriter struct {
	compression  Compression
	currentDocId DocumentId
	values       map[string]map[DocumentId][][]byte
	types        map[string]FieldType
}

func newStoreWriter(compression Compression) *storeWriter {
	return &storeWriter{
		compression: compression,
		values:      make(map[string]map[DocumentId][][]byte, 10),
		types:       make(map[string]FieldType, 10),
	}
}

func (writer *storeWriter) Doc(docId DocumentId) {
	writer.currentDocId = docId
}

func (writer *storeWriter) Field(field Field) {
	if field.FieldType == NestedFieldType {
		return
	}

	fieldValues, exists := writer.values[field.Name]
	if !exists {
		fieldValues = make(map[DocumentId][][]byte, 100)
		writer.values[field.Name] = fieldValues
		writer.types[field.Name] = field.FieldType
	}

	fieldValues[writer.currentDocId] = append(fieldValues[writer.currentDocId], field.Value)
}

func (writer *storeWriter) EndField() {
}

func (writer *storeWriter) Term(term []byte) {
}

func (writer *storeWriter) Write(directory, segmentId string, meta *segmentMeta) error {
	for fieldName, values := range writer.values {
		if err := writer.writeField(directory, segmentId, fieldName, values); err != nil {
			return err
		}

		info := meta.field(fieldName)
		info.Stored = true
		info.Type = writer.types[fieldName]
	}

	return nil
}

func (writer *storeWriter) writeField(directory, segmentId, fieldName string, values map[DocumentId][][]byte) error {
	kvStoreWriter, err := newKVStoreWriter(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".store"))
	if err != nil {
		return err
	}

	sortedDocIds := make([]DocumentId, 0, len(values))
	for docId := range values {
		sortedDocIds = append(sortedDocIds, docId)
	}
	slices.Sort(sortedDocIds)

	for _, docId := range sortedDocIds {
		encoded, err := encodeStoredValue(writer.compression, packValues(values[docId]))
		if err != nil {
			_ = kvStoreWriter.Close()
			return err
		}

		if err := kvStoreWriter.Append(utils.Uint32ToBytes(uint32(docId)), encoded); err != nil {
			_ = kvStoreWriter.Close()
			return err
		}
	}

	return kvStoreWriter.Close()
}

func packValues(values [][]byte) []byte {
	size := 0
	for _, value := range values {
		size += 4 + len(value)
	}

	packed := make([]byte, 0, size)
	for _, value := range values {
		packed = binary.BigEndian.AppendUint32(packed, uint32(len(value)))
		packed = append(packed, value...)
	}

	return packed
}

func unpackValues(packed []byte, fn func(value []byte)) error {
	for len(packed) > 0 {
		if len(packed) < 4 {
			return fmt.Errorf("corrupted stored value")
		}

		length := binary.BigEndian.Uint32(packed)
		if uint64(len(packed)-4) < uint64(length) {
			return fmt.Errorf("corrupted stored value")
		}

		fn(packed[4 : 4+length])
		packed = packed[4+length:]
	}

	return nil
}

type FieldStoreReader struct {
	compression   Compression
	kvStoreReader *KVStoreReader
}

func newFieldStoreReader(directory, segmentId, fieldName string, compression Compression) (*FieldStoreReader, error) {
	kvStoreReader, err := newKVStoreReader(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".store"))
	if err != nil {
		return nil, err
	}

	return &FieldStoreReader{compression: compression, kvStoreReader: kvStoreReader}, nil
}

// Values calls fn with every stored value of the document. Values may point
// into the mapped file; callers copy what they keep.
func (reader *FieldStoreReader) Values(docId DocumentId, fn func(value []byte)) error {
	encoded := reader.kvStoreReader.Get(utils.Uint32ToBytes(uint32(docId)))
	if encoded == nil {
		return nil
	}

	packed, err := decodeStoredValue(reader.compression, encoded)
	if err != nil {
		return err
	}

	return unpackValues(packed, fn)
}

// Value returns a copy of the first stored value of the document, or nil.
func (reader *FieldStoreReader) Value(docId DocumentId) ([]byte, error) {
	var first []byte
	found := false

	err := reader.Values(docId, func(value []byte) {
		if !found {
			first = slices.Clone(value)
			found = true
		}
	})

	return first, err
}

type StoreReader struct {
	compression       Compression
	directory         string
	fieldStoreReaders map[string]*FieldStoreReader
	mutex             sync.Mutex
	segmentId         string
}

func newStoreReader(directory, segmentId string, compression Compression) *StoreReader {
	return &StoreReader{
		compression:       compression,
		directory:         directory,
		segmentId:         segmentId,
		fieldStoreReaders: make(map[string]*FieldStoreReader, 10),
	}
}

func (reader *StoreReader) GetFieldStoreReader(fieldName string) (*FieldStoreReader, error) {
	reader.mutex.Lock()
	defer reader.mutex.Unlock()

	fieldStoreReader, exists := reader.fieldStoreReaders[fieldName]
	if !exists {
		var err error
		fieldStoreReader, err = newFieldStoreReader(reader.directory, reader.segmentId, fieldName, reader.compression)
		if err != nil {
			return nil, err
		}

		reader.fieldStoreReaders[fieldName] = fieldStoreReader
	}

	return fieldStoreReader, nil
}

func (reader *StoreReader) Close() error {
	reader.mutex.Lock()
	defer reader.mutex.Unlock()

	var firstErr error
	for name, fieldStoreReader := range reader.fieldStoreReaders {
		if err := fieldStoreReader.kvStoreReader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(reader.fieldStoreReaders, name)
	}

	return firstErr
}
