package index

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

const fieldLengthSize = 4

type posting struct {
	docId DocumentId
	freq  uint32
}

// postingsWriter accumulates the inverted index of a segment: per field, per
// term, the documents and term frequencies, plus the token count of every
// text field.
type postingsWriter struct {
	docId     DocumentId
	field     string
	fieldType FieldType
	position  uint32

	// postings[fieldName][term]
	postings map[string]map[string][]posting

	// fieldLengths[fieldName][docId]
	fieldLengths map[string]map[DocumentId]uint32
}

func newPostingsWriter() *postingsWriter {
	return &postingsWriter{
		postings:     make(map[string]map[string][]posting),
		fieldLengths: make(map[string]map[DocumentId]uint32),
	}
}

func (w *postingsWriter) Doc(docId DocumentId) {
	w.docId = docId
}

func (w *postingsWriter) Field(field Field) {
	w.field = field.Name
	w.fieldType = field.FieldType
	w.position = 0

	if _, exists := w.postings[field.Name]; !exists {
		w.postings[field.Name] = make(map[string][]posting)
	}
}

func (w *postingsWriter) Term(term []byte) {
	terms := w.postings[w.field]
	postings := terms[string(term)]

	if n := len(postings); n > 0 && postings[n-1].docId == w.docId {
		postings[n-1].freq++
	} else {
		postings = append(postings, posting{docId: w.docId, freq: 1})
	}

	terms[string(term)] = postings
	w.position++
}

func (w *postingsWriter) EndField() {
	if w.fieldType != TextFieldType {
		return
	}

	lengths, exists := w.fieldLengths[w.field]
	if !exists {
		lengths = make(map[DocumentId]uint32)
		w.fieldLengths[w.field] = lengths
	}

	lengths[w.docId] += w.position
}

func (w *postingsWriter) Write(directory, segmentId string, meta *segmentMeta) error {
	for fieldName, terms := range w.postings {
		if len(terms) == 0 {
			continue
		}

		info := meta.field(fieldName)
		info.Indexed = true

		if err := w.writeTerms(directory, segmentId, fieldName, terms, info); err != nil {
			return err
		}
	}

	for fieldName, lengths := range w.fieldLengths {
		if err := w.writeLengths(directory, segmentId, fieldName, lengths, meta); err != nil {
			return err
		}
	}

	return nil
}

func (w *postingsWriter) writeTerms(directory, segmentId, fieldName string, terms map[string][]posting, info *FieldInfo) error {
	kvStoreWriter, err := newKVStoreWriter(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".postings"))
	if err != nil {
		return err
	}

	sortedTerms := make([]string, 0, len(terms))
	for term := range terms {
		sortedTerms = append(sortedTerms, term)
	}
	slices.Sort(sortedTerms)

	fieldDocIds := roaring.NewBitmap()

	for _, term := range sortedTerms {
		postings := terms[term]

		docIds := roaring.NewBitmap()
		freqs := make([]byte, 0, 4*len(postings))
		for _, p := range postings {
			docIds.Add(uint32(p.docId))
			freqs = binary.BigEndian.AppendUint32(freqs, p.freq)
			info.SumTermFreq += uint64(p.freq)
		}
		fieldDocIds.Or(docIds)

		docIdsBytes, err := docIds.ToBytes()
		if err != nil {
			_ = kvStoreWriter.Close()
			return err
		}

		header := binary.BigEndian.AppendUint32(nil, uint32(len(docIdsBytes)))
		if err := kvStoreWriter.Append([]byte(term), header, docIdsBytes, freqs); err != nil {
			_ = kvStoreWriter.Close()
			return err
		}
	}

	info.DocCount = uint32(fieldDocIds.GetCardinality())

	return kvStoreWriter.Close()
}

func (w *postingsWriter) writeLengths(directory, segmentId, fieldName string, lengths map[DocumentId]uint32, meta *segmentMeta) error {
	writer, err := newArrayStoreWriter(filepath.Join(directory, "segment."+segmentId+"."+fieldName+".lengths"), fieldLengthSize)
	if err != nil {
		return err
	}

	buffer := make([]byte, fieldLengthSize)
	for docId := DocumentId(0); uint32(docId) < meta.MaxDoc; docId++ {
		binary.BigEndian.PutUint32(buffer, lengths[docId])
		if err := writer.Append(buffer); err != nil {
			_ = writer.Close()
			return err
		}
	}

	meta.field(fieldName).HasLengths = true

	return writer.Close()
}

// Postings is the decoded posting list of one term in one segment.
type Postings struct {
	docIds *roaring.Bitmap
	freqs  []byte
}

func decodePostings(value []byte) (*Postings, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("corrupted postings: %d bytes", len(value))
	}

	bitmapLength := binary.BigEndian.Uint32(value)
	if uint64(len(value)) < 4+uint64(bitmapLength) {
		return nil, fmt.Errorf("corrupted postings: bitmap of %d bytes", bitmapLength)
	}

	docIds := roaring.NewBitmap()
	if err := docIds.UnmarshalBinary(value[4 : 4+bitmapLength]); err != nil {
		return nil, err
	}

	return &Postings{
		docIds: docIds,
		freqs:  value[4+bitmapLength:],
	}, nil
}

func (p *Postings) DocFreq() uint32 {
	return uint32(p.docIds.GetCardinality())
}

func (p *Postings) Iterator() *PostingsIterator {
	return &PostingsIterator{
		postings: p,
		it:       p.docIds.Iterator(),
		position: -1,
	}
}

// PostingsIterator walks a posting list in increasing doc id order.
type PostingsIterator struct {
	postings *Postings
	it       roaring.IntPeekable
	docId    DocumentId
	position int
}

func (it *PostingsIterator) DocId() DocumentId {
	return it.docId
}

func (it *PostingsIterator) Next() bool {
	if !it.it.HasNext() {
		return false
	}

	it.docId = DocumentId(it.it.Next())
	it.position++
	return true
}

// Advance moves to the first document >= target.
func (it *PostingsIterator) Advance(target DocumentId) bool {
	it.it.AdvanceIfNeeded(uint32(target))
	if !it.it.HasNext() {
		return false
	}

	it.docId = DocumentId(it.it.Next())
	it.position = int(it.postings.docIds.Rank(uint32(it.docId))) - 1
	return true
}

func (it *PostingsIterator) Freq() uint32 {
	return binary.BigEndian.Uint32(it.postings.freqs[it.position*4:])
}
