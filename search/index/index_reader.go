package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

func readCommit(directory string) (*Commit, error) {
	commitFile, err := os.Open(filepath.Join(directory, "commit"))
	if errors.Is(err, os.ErrNotExist) {
		return &Commit{SegmentIds: make([]uint32, 0)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer commitFile.Close()

	var commit Commit
	if err := json.NewDecoder(commitFile).Decode(&commit); err != nil {
		return nil, err
	}

	return &commit, nil
}

// IndexReader is a point-in-time view of the committed segments. Segments are
// laid out one after the other in the absolute doc id space: a segment's
// documents start at its DocBase.
type IndexReader struct {
	Segments []*SegmentReader

	fieldTypes map[string]FieldType
	maxDoc     uint64
	numDocs    uint64
}

func NewIndexReader(directory string) (*IndexReader, error) {
	commit, err := readCommit(directory)
	if err != nil {
		return nil, err
	}

	deletedReader, err := newDeletedReader(directory, commit.DeletedId)
	if err != nil {
		return nil, err
	}
	defer deletedReader.Close()

	reader := &IndexReader{
		Segments:   make([]*SegmentReader, 0, len(commit.SegmentIds)),
		fieldTypes: make(map[string]FieldType),
	}

	for _, segmentId := range commit.SegmentIds {
		deletedDocIds, err := deletedReader.GetDeletedDocIdsForSegment(segmentId)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}

		segment, err := openSegmentReader(directory, segmentId, deletedDocIds)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}

		segment.DocBase = reader.maxDoc
		segment.Ord = len(reader.Segments)
		reader.Segments = append(reader.Segments, segment)

		reader.maxDoc += uint64(segment.MaxDoc)
		reader.numDocs += segment.NumDocs()

		for name, info := range segment.meta.Fields {
			reader.fieldTypes[name] = info.Type
		}
	}

	return reader, nil
}

// MaxDoc returns one more than the largest absolute doc id, nested documents
// and deleted documents included.
func (reader *IndexReader) MaxDoc() uint64 {
	return reader.maxDoc
}

// NumDocs returns the number of live root documents.
func (reader *IndexReader) NumDocs() uint64 {
	return reader.numDocs
}

func (reader *IndexReader) FieldType(fieldName string) (FieldType, bool) {
	fieldType, exists := reader.fieldTypes[fieldName]
	return fieldType, exists
}

// Segment resolves an absolute doc id to its segment and local doc id.
func (reader *IndexReader) Segment(docId uint64) (*SegmentReader, DocumentId, error) {
	if docId >= reader.maxDoc {
		return nil, 0, fmt.Errorf("%w: %d", ErrDocumentNotFound, docId)
	}

	i := sort.Search(len(reader.Segments), func(i int) bool {
		return reader.Segments[i].DocBase > docId
	}) - 1

	segment := reader.Segments[i]
	return segment, DocumentId(docId - segment.DocBase), nil
}

// NestedDocIds returns the absolute ids of the nested documents of a root
// document, restricted to the given nested paths when any are given.
func (reader *IndexReader) NestedDocIds(docId uint64, paths []string) ([]uint64, error) {
	segment, localDocId, err := reader.Segment(docId)
	if err != nil {
		return nil, err
	}

	first, end := segment.Children(localDocId)
	if first == end {
		return nil, nil
	}

	docIds := make([]uint64, 0, end-first)
	for child := first; child < end; child++ {
		if len(paths) > 0 && !containsPath(paths, segment.NestedPath(child)) {
			continue
		}

		docIds = append(docIds, segment.GlobalDocId(child))
	}

	return docIds, nil
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}

	return false
}

// Document visits the stored fields of a document by absolute id.
func (reader *IndexReader) Document(docId uint64, visitor StoredFieldVisitor) error {
	segment, localDocId, err := reader.Segment(docId)
	if err != nil {
		return err
	}

	return segment.VisitDocument(localDocId, visitor)
}

// TermDocIds returns the absolute ids of the live root documents holding one
// of the exact values in the given field.
func (reader *IndexReader) TermDocIds(fieldName string, values [][]byte) ([]uint64, error) {
	results := make([]uint64, 0, 100)

	for _, segment := range reader.Segments {
		seen := make(map[DocumentId]struct{})
		segmentDocIds := make([]uint64, 0)

		for _, value := range values {
			postings, err := segment.Postings(fieldName, value)
			if err != nil {
				return nil, err
			}
			if postings == nil {
				continue
			}

			it := postings.Iterator()
			for it.Next() {
				docId := it.DocId()
				if _, exists := seen[docId]; exists || !segment.IsLive(docId) {
					continue
				}

				seen[docId] = struct{}{}
				segmentDocIds = append(segmentDocIds, segment.GlobalDocId(docId))
			}
		}

		sort.Slice(segmentDocIds, func(i, j int) bool { return segmentDocIds[i] < segmentDocIds[j] })
		results = append(results, segmentDocIds...)
	}

	return results, nil
}

func (reader *IndexReader) Close() error {
	errs := make([]error, 0, len(reader.Segments))
	for _, segment := range reader.Segments {
		errs = append(errs, segment.Close())
	}

	return errors.Join(errs...)
}
