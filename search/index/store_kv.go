package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
)

// KVStoreWriter writes a sorted key/value file pair: basename.data holds
// [keyLength uint32][valueLength uint32][key][value] records, basename.index
// holds the uint64 offset of each record.
type KVStoreWriter struct {
	dataFile    *os.File
	dataWriter  *bufio.Writer
	indexFile   *os.File
	indexWriter *bufio.Writer
	lastKey     []byte
	offset      uint64
}

func newKVStoreWriter(basename string) (*KVStoreWriter, error) {
	dataFile, err := createFile(basename + ".data")
	if err != nil {
		return nil, err
	}
	indexFile, err := createFile(basename + ".index")
	if err != nil {
		_ = dataFile.Close()
		return nil, err
	}

	return &KVStoreWriter{
		dataFile:    dataFile,
		dataWriter:  bufio.NewWriter(dataFile),
		indexFile:   indexFile,
		indexWriter: bufio.NewWriter(indexFile),
	}, nil
}

// Append adds a record. Keys must be appended in strictly increasing order.
func (w *KVStoreWriter) Append(key []byte, values ...[]byte) error {
	if w.lastKey != nil && bytes.Compare(w.lastKey, key) >= 0 {
		return errUnorderedKey
	}
	w.lastKey = append(w.lastKey[:0], key...)

	keyLength := uint32(len(key))

	var valueLength uint32
	for _, value := range values {
		valueLength += uint32(len(value))
	}

	buffer := make([]byte, 0, 8+keyLength+valueLength)
	buffer = binary.BigEndian.AppendUint32(buffer, keyLength)
	buffer = binary.BigEndian.AppendUint32(buffer, valueLength)

	buffer = append(buffer, key...)
	for _, value := range values {
		buffer = append(buffer, value...)
	}

	if _, err := w.dataWriter.Write(buffer); err != nil {
		return err
	}

	if _, err := w.indexWriter.Write(binary.BigEndian.AppendUint64(nil, w.offset)); err != nil {
		return err
	}

	w.offset += uint64(len(buffer))

	return nil
}

func (w *KVStoreWriter) Close() error {
	if err := w.dataWriter.Flush(); err != nil {
		return err
	}

	if err := w.dataFile.Close(); err != nil {
		return err
	}

	if err := w.indexWriter.Flush(); err != nil {
		return err
	}

	return w.indexFile.Close()
}

type KVStoreReader struct {
	data      mmap.MMap
	dataFile  *os.File
	index     mmap.MMap
	indexFile *os.File
}

func newKVStoreReader(basename string) (*KVStoreReader, error) {
	dataFile, data, err := mapFile(basename + ".data")
	if err != nil {
		return nil, err
	}

	indexFile, index, err := mapFile(basename + ".index")
	if err != nil {
		_ = unmapFile(dataFile, data)
		return nil, err
	}

	return &KVStoreReader{
		data:      data,
		dataFile:  dataFile,
		index:     index,
		indexFile: indexFile,
	}, nil
}

func (kv *KVStoreReader) Len() int {
	return len(kv.index) / 8
}

// Get binary searches the index for key. The returned slice points into the
// mapped file and is only valid until Close.
func (kv *KVStoreReader) Get(key []byte) []byte {
	leftIndex := 0
	rightIndex := kv.Len() - 1

	for leftIndex <= rightIndex {
		middle := leftIndex + (rightIndex-leftIndex)/2

		currentKey, value := kv.entry(middle)

		switch bytes.Compare(currentKey, key) {
		case -1:
			leftIndex = middle + 1
		case 1:
			rightIndex = middle - 1
		default:
			return value
		}
	}

	return nil
}

func (kv *KVStoreReader) entry(i int) ([]byte, []byte) {
	offset := binary.BigEndian.Uint64(kv.index[i*8 : i*8+8])
	keyLength := uint64(binary.BigEndian.Uint32(kv.data[offset : offset+4]))
	valueLength := uint64(binary.BigEndian.Uint32(kv.data[offset+4 : offset+8]))

	keyStart := offset + 8
	valueStart := keyStart + keyLength

	return kv.data[keyStart:valueStart], kv.data[valueStart : valueStart+valueLength]
}

func (kv *KVStoreReader) Close() error {
	dataErr := unmapFile(kv.dataFile, kv.data)
	indexErr := unmapFile(kv.indexFile, kv.index)

	if dataErr != nil {
		return dataErr
	}

	return indexErr
}
