package index

// Caller calls in order:
// - Doc()
// - Field()
// - Term()
// - Term()
// - ...
// - EndField()
// - Field()
// - ...
// - Doc()
// - ...
// - Write()
//
// Write receives the segment meta so each component can record what it wrote.
type SegmentComponentWriter interface {
	Doc(docId DocumentId)
	Field(field Field)
	Term(term []byte)
	EndField()
	Write(directory, segmentId string, meta *segmentMeta) error
}
