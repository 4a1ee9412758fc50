package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/exp/rand"
)

type IndexWriter struct {
	compression Compression
	directory   string
	mutex       sync.RWMutex
	tokenizer   *StandardTokenizer
}

type Commit struct {
	SegmentIds []uint32 `json:"segmentIds"`
	DeletedId  *uint32  `json:"deletedId,omitempty"`
}

type IndexWriterOption func(*IndexWriter)

// WithStoredCompression selects the codec applied to stored field values of
// the segments written from now on.
func WithStoredCompression(compression Compression) IndexWriterOption {
	return func(writer *IndexWriter) {
		writer.compression = compression
	}
}

func NewIndexWriter(directory string, opts ...IndexWriterOption) *IndexWriter {
	writer := &IndexWriter{
		compression: NoCompression,
		directory:   directory,
		tokenizer:   NewStandardTokenizer(),
	}

	for _, opt := range opts {
		opt(writer)
	}

	return writer
}

type blockDocument struct {
	doc  Document
	path string
}

// flattenBlock lays out a root document and its nested documents as one
// block: every child precedes its parent, depth first, and the root is last.
func flattenBlock(doc Document, path string, block []blockDocument) []blockDocument {
	for _, field := range doc {
		if field.FieldType != NestedFieldType {
			continue
		}

		childPath := joinPath(path, field.Name)
		for _, child := range field.Nested {
			block = flattenBlock(child, childPath, block)
		}
	}

	return append(block, blockDocument{doc: doc, path: path})
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}

	return path + "." + name
}

func (writer *IndexWriter) AddDocuments(docs []Document) error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	blocks := newBlockWriter()
	segmentComponentWriters := []SegmentComponentWriter{
		newPostingsWriter(),
		newStoreWriter(writer.compression),
		newPointsWriter(),
	}

	var docId DocumentId
	for _, doc := range docs {
		for _, blockDoc := range flattenBlock(doc, "", nil) {
			if blockDoc.path == "" {
				blocks.root(docId)
			} else {
				blocks.child(docId, blockDoc.path)
			}

			if err := writer.writeDocument(segmentComponentWriters, docId, blockDoc); err != nil {
				return err
			}

			docId++
		}
	}

	if docId == 0 {
		return nil
	}

	meta := &segmentMeta{
		MaxDoc:      uint32(docId),
		Compression: writer.compression,
		Fields:      make(map[string]*FieldInfo),
	}

	newSegmentId := rand.Uint32()
	segmentId := formatId(newSegmentId)

	for _, segmentComponentWriter := range segmentComponentWriters {
		if err := segmentComponentWriter.Write(writer.directory, segmentId, meta); err != nil {
			return err
		}
	}

	if err := blocks.Write(writer.directory, segmentId, meta); err != nil {
		return err
	}

	if err := writeSegmentMeta(writer.directory, segmentId, meta); err != nil {
		return err
	}

	commit, err := readCommit(writer.directory)
	if err != nil {
		return err
	}

	return writer.commit(append(commit.SegmentIds, newSegmentId), commit.DeletedId)
}

func (writer *IndexWriter) writeDocument(segmentComponentWriters []SegmentComponentWriter, docId DocumentId, blockDoc blockDocument) error {
	for _, segmentComponentWriter := range segmentComponentWriters {
		segmentComponentWriter.Doc(docId)
	}

	for _, field := range blockDoc.doc {
		if field.FieldType == NestedFieldType {
			continue
		}

		field.Name = joinPath(blockDoc.path, field.Name)

		for _, segmentComponentWriter := range segmentComponentWriters {
			segmentComponentWriter.Field(field)
		}

		switch field.FieldType {
		case TextFieldType:
			writer.tokenizer.Reset(field.Value)
			for {
				token, ok := writer.tokenizer.NextToken()
				if !ok {
					break
				}

				for _, segmentComponentWriter := range segmentComponentWriters {
					segmentComponentWriter.Term(token.Text)
				}
			}
		case ByteFieldType, NumericFieldType:
			for _, segmentComponentWriter := range segmentComponentWriters {
				segmentComponentWriter.Term(field.Value)
			}
		case GeoPointFieldType:
		default:
			return fmt.Errorf("unknown field type %d", field.FieldType)
		}

		for _, segmentComponentWriter := range segmentComponentWriters {
			segmentComponentWriter.EndField()
		}
	}

	return nil
}

func (writer *IndexWriter) commit(segmentIds []uint32, deletedId *uint32) error {
	tempFilePath := filepath.Join(writer.directory, ".commit")
	tempFile, err := os.Create(tempFilePath)
	if err != nil {
		return err
	}

	commit := Commit{
		SegmentIds: segmentIds,
		DeletedId:  deletedId,
	}

	if err := json.NewEncoder(tempFile).Encode(commit); err != nil {
		_ = tempFile.Close()
		return err
	}

	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempFilePath, filepath.Join(writer.directory, "commit"))
}

// DeleteDocuments marks deleted every root document holding one of the exact
// values in the given field.
func (writer *IndexWriter) DeleteDocuments(fieldName string, values [][]byte) error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	indexReader, err := NewIndexReader(writer.directory)
	if err != nil {
		return err
	}
	defer indexReader.Close()

	commit, err := readCommit(writer.directory)
	if err != nil {
		return err
	}

	var nextDeletedId uint32
	if commit.DeletedId != nil {
		nextDeletedId = *commit.DeletedId + 1
	}

	deletedDocIdsBySegment := make(map[uint32]*roaring.Bitmap, len(indexReader.Segments))

	for _, segment := range indexReader.Segments {
		deletedDocIds := segment.DeletedDocIds.Clone()

		for _, value := range values {
			postings, err := segment.Postings(fieldName, value)
			if err != nil {
				return err
			}
			if postings == nil {
				continue
			}

			it := postings.Iterator()
			for it.Next() {
				if segment.IsRoot(it.DocId()) {
					deletedDocIds.Add(uint32(it.DocId()))
				}
			}
		}

		if !deletedDocIds.IsEmpty() {
			deletedDocIdsBySegment[segment.Id] = deletedDocIds
		}
	}

	if err := writeDeleted(writer.directory, formatId(nextDeletedId), deletedDocIdsBySegment); err != nil {
		return err
	}

	return writer.commit(commit.SegmentIds, &nextDeletedId)
}
