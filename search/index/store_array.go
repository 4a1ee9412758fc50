package index

import (
	"bufio"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ArrayStoreWriter appends fixed-width elements, one per document.
type ArrayStoreWriter struct {
	elementValueSize int
	file             *os.File
	writer           *bufio.Writer
}

func newArrayStoreWriter(filename string, elementValueSize int) (*ArrayStoreWriter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	return &ArrayStoreWriter{
		elementValueSize: elementValueSize,
		file:             file,
		writer:           bufio.NewWriter(file),
	}, nil
}

func (writer *ArrayStoreWriter) Append(value []byte) error {
	if len(value) != writer.elementValueSize {
		return fmt.Errorf("array store element has %d bytes, expected %d", len(value), writer.elementValueSize)
	}

	_, err := writer.writer.Write(value)
	return err
}

func (writer *ArrayStoreWriter) Close() error {
	if err := writer.writer.Flush(); err != nil {
		_ = writer.file.Close()
		return err
	}

	return writer.file.Close()
}

type ArrayStoreReader struct {
	data             mmap.MMap
	elementValueSize uint32
	file             *os.File
}

func newArrayStoreReader(filename string, elementValueSize uint32) (*ArrayStoreReader, error) {
	file, data, err := mapFile(filename)
	if err != nil {
		return nil, err
	}

	return &ArrayStoreReader{
		data:             data,
		elementValueSize: elementValueSize,
		file:             file,
	}, nil
}

func (reader *ArrayStoreReader) Len() uint32 {
	return uint32(len(reader.data)) / reader.elementValueSize
}

func (reader *ArrayStoreReader) Get(position uint32) []byte {
	start := position * reader.elementValueSize
	return reader.data[start : start+reader.elementValueSize]
}

func (reader *ArrayStoreReader) Close() error {
	return unmapFile(reader.file, reader.data)
}
