package index

import (
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/larose/harvest/search/utils"
)

// Documents are written in blocks: the nested children of a root document
// come first, in depth-first order, and the root closes the block. The roots
// bitmap is enough to recover the block of any root: its children are the
// documents between the previous root and itself.
type blockWriter struct {
	roots *roaring.Bitmap
	paths map[DocumentId]string
	order []DocumentId
}

func newBlockWriter() *blockWriter {
	return &blockWriter{
		roots: roaring.NewBitmap(),
		paths: make(map[DocumentId]string),
	}
}

func (w *blockWriter) root(docId DocumentId) {
	w.roots.Add(uint32(docId))
}

func (w *blockWriter) child(docId DocumentId, path string) {
	w.paths[docId] = path
	w.order = append(w.order, docId)
}

func (w *blockWriter) Write(directory, segmentId string, meta *segmentMeta) error {
	rootsBytes, err := w.roots.ToBytes()
	if err != nil {
		return err
	}

	if err := os.WriteFile(rootsPath(directory, segmentId), rootsBytes, 0600); err != nil {
		return err
	}

	if len(w.order) == 0 {
		return nil
	}

	kvStoreWriter, err := newKVStoreWriter(filepath.Join(directory, "segment."+segmentId+".nested"))
	if err != nil {
		return err
	}

	for _, docId := range w.order {
		path := w.paths[docId]
		if err := kvStoreWriter.Append(utils.Uint32ToBytes(uint32(docId)), []byte(path)); err != nil {
			_ = kvStoreWriter.Close()
			return err
		}

		meta.field(path).Type = NestedFieldType
	}

	meta.Nested = true

	return kvStoreWriter.Close()
}

func rootsPath(directory, segmentId string) string {
	return filepath.Join(directory, "segment."+segmentId+".roots")
}

func readRoots(directory, segmentId string) (*roaring.Bitmap, error) {
	data, err := os.ReadFile(rootsPath(directory, segmentId))
	if err != nil {
		return nil, err
	}

	roots := roaring.NewBitmap()
	if err := roots.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	return roots, nil
}
