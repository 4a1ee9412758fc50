package collect

import (
	"github.com/larose/harvest/search/index"
)

// nestedCollector feeds its delegate the nested documents of every collected
// root document, in increasing doc id order, followed by the root. Nested
// documents get the score of their root.
type nestedCollector struct {
	delegate Collector
	segment  *index.SegmentReader
}

func newNestedCollector(delegate Collector, segment *index.SegmentReader) *nestedCollector {
	return &nestedCollector{delegate: delegate, segment: segment}
}

func (c *nestedCollector) Collect(doc index.DocumentId, scorer Scorable) error {
	first, end := c.segment.Children(doc)
	for child := first; child < end; child++ {
		if err := c.delegate.Collect(child, scorer); err != nil {
			return err
		}
	}

	return c.delegate.Collect(doc, scorer)
}

func (c *nestedCollector) Unwrap() Collector {
	return c.delegate
}
