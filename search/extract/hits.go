package extract

import (
	"context"
	"fmt"

	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
)

// LoadHits materializes the given hits, in order, and extracts a value from
// each. Stored fields are only loaded when the plan requires some; the
// fields of the nested documents under the required nested paths are loaded
// along with their root.
func (c *Collectors) LoadHits(ctx context.Context, scoreDocs []collect.ScoreDoc, extractor HitExtractor) ([]any, error) {
	var lease *VisitorLease
	if c.visitorFactory != nil {
		lease = c.visitorFactory.Lease()
		defer lease.Release()
	}

	reader := c.searcher.Reader()
	values := make([]any, len(scoreDocs))

	for i, scoreDoc := range scoreDocs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hit := Hit{
			Doc:      scoreDoc.Doc,
			Score:    scoreDoc.Score,
			Fields:   scoreDoc.Fields,
			Document: index.Document{},
		}

		if lease != nil {
			visitor := lease.Visitor()

			if err := reader.Document(scoreDoc.Doc, visitor); err != nil {
				return nil, fmt.Errorf("load hit %d: %w", scoreDoc.Doc, err)
			}

			if len(c.nestedPaths) > 0 {
				nested, err := reader.NestedDocIds(scoreDoc.Doc, c.nestedPaths)
				if err != nil {
					return nil, fmt.Errorf("load hit %d: %w", scoreDoc.Doc, err)
				}

				for _, nestedDoc := range nested {
					if err := reader.Document(nestedDoc, visitor); err != nil {
						return nil, fmt.Errorf("load hit %d: nested %d: %w", scoreDoc.Doc, nestedDoc, err)
					}
				}
			}

			hit.Document = visitor.GetDocumentAndReset()
		}

		value, err := extractor.Extract(c, &hit)
		if err != nil {
			return nil, fmt.Errorf("extract hit %d: %w", scoreDoc.Doc, err)
		}
		values[i] = value
	}

	return values, nil
}
