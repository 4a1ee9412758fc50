package index

import (
	"path/filepath"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/larose/harvest/search/utils"
)

func deletedBasename(directory, deletedId string) string {
	return filepath.Join(directory, "deleted."+deletedId)
}

// writeDeleted persists one bitmap of deleted local doc ids per segment.
func writeDeleted(directory, deletedId string, deletedDocIdsBySegment map[uint32]*roaring.Bitmap) error {
	kvStoreWriter, err := newKVStoreWriter(deletedBasename(directory, deletedId))
	if err != nil {
		return err
	}

	sortedSegmentIds := make([]uint32, 0, len(deletedDocIdsBySegment))
	for segmentId := range deletedDocIdsBySegment {
		sortedSegmentIds = append(sortedSegmentIds, segmentId)
	}
	slices.Sort(sortedSegmentIds)

	for _, segmentId := range sortedSegmentIds {
		buffer, err := deletedDocIdsBySegment[segmentId].ToBytes()
		if err != nil {
			_ = kvStoreWriter.Close()
			return err
		}

		if err := kvStoreWriter.Append(utils.Uint32ToBytes(segmentId), buffer); err != nil {
			_ = kvStoreWriter.Close()
			return err
		}
	}

	return kvStoreWriter.Close()
}

type DeletedReader interface {
	GetDeletedDocIdsForSegment(segmentId uint32) (*roaring.Bitmap, error)
	Close() error
}

type nullDeletedReader struct {
}

func (reader nullDeletedReader) GetDeletedDocIdsForSegment(segmentId uint32) (*roaring.Bitmap, error) {
	return roaring.NewBitmap(), nil
}

func (reader nullDeletedReader) Close() error {
	return nil
}

type fileDeletedReader struct {
	kvStoreReader *KVStoreReader
}

func newDeletedReader(directory string, deletedId *uint32) (DeletedReader, error) {
	if deletedId == nil {
		return nullDeletedReader{}, nil
	}

	kvStoreReader, err := newKVStoreReader(deletedBasename(directory, formatId(*deletedId)))
	if err != nil {
		return nil, err
	}

	return &fileDeletedReader{kvStoreReader: kvStoreReader}, nil
}

func (reader *fileDeletedReader) GetDeletedDocIdsForSegment(segmentId uint32) (*roaring.Bitmap, error) {
	deletedDocs := roaring.NewBitmap()

	value := reader.kvStoreReader.Get(utils.Uint32ToBytes(segmentId))
	if value == nil {
		return deletedDocs, nil
	}

	if err := deletedDocs.UnmarshalBinary(value); err != nil {
		return nil, err
	}

	return deletedDocs, nil
}

func (reader *fileDeletedReader) Close() error {
	return reader.kvStoreReader.Close()
}
