package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/larose/harvest/search"
	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
	"github.com/larose/harvest/search/query"
)

// Request is one query execution: what to match, how to rank it and how
// many hits to keep.
type Request struct {
	Query query.Query
	// Sort defaults to relevance.
	Sort collect.Sort
	// MaxDocs is the number of hits wanted after Offset. Zero collects no
	// hits.
	MaxDocs int
	Offset  int
	// TotalHitCountThreshold is how many matches must be counted before
	// counting may stop. Use math.MaxUint64 for an exact count.
	TotalHitCountThreshold uint64
	Deadline               *collect.Deadline
}

// Collectors is the collection plan of one query execution. A plan can be
// kept after Collect to extract further pages of hits.
type Collectors struct {
	deadline                 *collect.Deadline
	executionId              string
	logger                   *slog.Logger
	manager                  *collect.MultiManager
	matchAll                 bool
	nestedPaths              []string
	numHits                  int
	originalQuery            query.Query
	requireFieldDocRescoring bool
	requireScore             bool
	rewrittenQuery           query.Query
	scoreSortFieldIndex      int
	searcher                 *search.Searcher
	sort                     collect.Sort
	threshold                uint64
	visitorFactory           *VisitorFactory

	collected bool
	results   *collect.Results
	topDocs   *collect.TopDocs
}

// CreateCollectors builds the plan collecting everything the requirements
// ask for in a single scan.
func (r *Requirements) CreateCollectors(searcher *search.Searcher, request Request) (*Collectors, error) {
	if request.Query == nil {
		return nil, fmt.Errorf("%w: no query", ErrInvalidRequirements)
	}
	if request.MaxDocs < 0 || request.Offset < 0 {
		return nil, fmt.Errorf("%w: negative max docs %d or offset %d", ErrInvalidRequirements, request.MaxDocs, request.Offset)
	}

	rewritten, err := searcher.Rewrite(request.Query)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", request.Query, err)
	}

	executionId := uuid.NewString()
	plan := &Collectors{
		deadline:            request.Deadline,
		executionId:         executionId,
		logger:              searcher.Logger().With("execution", executionId),
		matchAll:            query.IsMatchAll(rewritten),
		nestedPaths:         r.NestedPaths(),
		originalQuery:       request.Query,
		requireScore:        r.requireScore,
		rewrittenQuery:      rewritten,
		scoreSortFieldIndex: -1,
		searcher:            searcher,
		sort:                request.Sort,
		threshold:           request.TotalHitCountThreshold,
	}

	// Everything matches: the index knows the count.
	if plan.matchAll {
		plan.threshold = 0
	}

	reader := searcher.Reader()
	builder := collect.NewMultiBuilder().WithDeadline(request.Deadline)

	if request.MaxDocs > 0 {
		plan.numHits = request.Offset + request.MaxDocs

		manager, err := plan.newTopDocsManager(reader, plan.numHits)
		if err != nil {
			return nil, err
		}

		if err := collect.Add(builder, collect.TopDocsKey, collect.Manager[*collect.TopDocsCollector, *collect.TopDocs](manager)); err != nil {
			return nil, err
		}
	} else if plan.threshold > 0 {
		counter := collect.NewTotalHitCountManager(request.Deadline)
		if err := collect.Add(builder, collect.TotalHitCountKey, collect.Manager[*collect.TotalHitCountCollector, collect.TotalHits](counter)); err != nil {
			return nil, err
		}
	}

	factoryContext := collect.FactoryContext{
		Reader:   reader,
		Deadline: request.Deadline,
		Logger:   plan.logger,
		MaxDocs:  plan.numHits,
	}
	for _, factory := range r.factories {
		if err := factory.Register(factoryContext, builder); err != nil {
			return nil, err
		}
	}

	plan.manager = builder.Build()

	if r.requiresStoredFields() {
		var fields []string
		if !r.allStoredFields {
			fields = r.storedFields
		}
		plan.visitorFactory = NewVisitorFactory(fields)
	}

	plan.logger.Debug("collection plan",
		"query", rewritten.String(),
		"sort", plan.sort.String(),
		"num_hits", plan.numHits,
		"threshold", plan.threshold,
		"match_all", plan.matchAll,
		"rescoring", plan.requireFieldDocRescoring,
	)

	return plan, nil
}

func (c *Collectors) newTopDocsManager(reader *index.IndexReader, numHits int) (*collect.TopDocsManager, error) {
	if c.sort.IsRelevance() {
		return collect.NewTopScoreDocsManager(numHits, c.threshold, c.deadline), nil
	}

	trackScores := c.requireScore && c.searcher.FieldSortTracksScores()
	manager, err := collect.NewTopFieldDocsManager(reader, c.sort, numHits, c.threshold, trackScores, c.deadline)
	if err != nil {
		return nil, err
	}

	if c.requireScore && !manager.TracksScores() {
		c.requireFieldDocRescoring = true
		c.scoreSortFieldIndex = c.sort.ScoreSlot()
	}

	return manager, nil
}

func (c *Collectors) ExecutionId() string {
	return c.executionId
}

// Query returns the rewritten query the plan runs.
func (c *Collectors) Query() query.Query {
	return c.rewrittenQuery
}

func (c *Collectors) OriginalQuery() query.Query {
	return c.originalQuery
}

// Manager returns nil when the plan has nothing to collect.
func (c *Collectors) Manager() *collect.MultiManager {
	return c.manager
}

func (c *Collectors) Deadline() *collect.Deadline {
	return c.deadline
}

// RequiresFieldDocRescoring reports whether hits ranked by a field sort get
// their scores from a second pass.
func (c *Collectors) RequiresFieldDocRescoring() bool {
	return c.requireFieldDocRescoring
}

// ScoreSortFieldIndex returns the sort slot holding the score, or -1.
func (c *Collectors) ScoreSortFieldIndex() int {
	return c.scoreSortFieldIndex
}

// VisitorFactory returns nil when no stored field is required.
func (c *Collectors) VisitorFactory() *VisitorFactory {
	return c.visitorFactory
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Collect
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

func (c *Collectors) withDeadline(ctx context.Context) context.Context {
	if c.deadline == nil {
		return ctx
	}
	return collect.WithDeadline(ctx, c.deadline)
}

// Collect runs the plan. A plan without manager does not scan the index.
func (c *Collectors) Collect(ctx context.Context) error {
	if c.collected {
		return nil
	}

	if c.manager == nil {
		c.logger.Debug("nothing to collect")
		c.collected = true
		return nil
	}

	ctx = c.withDeadline(ctx)

	results, err := search.Collect(ctx, c.searcher, c.rewrittenQuery, collect.Manager[collect.Collector, *collect.Results](c.manager))
	if err != nil {
		return err
	}

	c.results = results
	if topDocs, ok := collect.Get(results, collect.TopDocsKey); ok {
		c.topDocs, err = c.rescore(ctx, topDocs)
		if err != nil {
			return err
		}
	}

	c.collected = true
	return nil
}

// rescore attaches scores to hits ranked by a field sort that did not track
// them. Scores already sorted on are copied from their slot; otherwise a
// second pass computes them. A timeout during the second pass leaves the
// hits unscored unless the deadline fails on timeout.
func (c *Collectors) rescore(ctx context.Context, topDocs *collect.TopDocs) (*collect.TopDocs, error) {
	if !c.requireFieldDocRescoring || len(topDocs.ScoreDocs) == 0 {
		return topDocs, nil
	}

	rescored := *topDocs

	if c.scoreSortFieldIndex >= 0 {
		rescored.ScoreDocs = make([]collect.ScoreDoc, len(topDocs.ScoreDocs))
		for i, scoreDoc := range topDocs.ScoreDocs {
			scoreDoc.Score = float32(scoreDoc.Fields[c.scoreSortFieldIndex].Number)
			rescored.ScoreDocs[i] = scoreDoc
		}
		return &rescored, nil
	}

	scoreDocs, err := c.searcher.Rescore(ctx, c.rewrittenQuery, topDocs.ScoreDocs)
	if err != nil {
		var timeoutErr *collect.TimeoutError
		if errors.As(err, &timeoutErr) && !timeoutErr.Fail {
			c.logger.Warn("rescoring timed out", "elapsed", timeoutErr.Elapsed, "budget", timeoutErr.Budget)
			rescored.TimedOut = true
			return &rescored, nil
		}
		return nil, fmt.Errorf("rescore: %w", err)
	}

	rescored.ScoreDocs = scoreDocs
	return &rescored, nil
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Results
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// TotalHits returns the number of matching documents. A match-all query is
// answered by the index without counting.
func (c *Collectors) TotalHits() collect.TotalHits {
	if c.matchAll {
		return collect.TotalHits{Value: c.searcher.Reader().NumDocs(), Relation: collect.EqualTo}
	}

	if c.topDocs != nil {
		return c.topDocs.TotalHits
	}

	if count, ok := collect.Get(c.results, collect.TotalHitCountKey); ok {
		return count
	}

	return collect.TotalHits{Relation: collect.GreaterThanOrEqualTo}
}

func (c *Collectors) TotalHitCount() uint64 {
	return c.TotalHits().Value
}

// TopDocs returns at most count hits starting at first, or nil when the plan
// collected no hits.
func (c *Collectors) TopDocs(first, count int) *collect.TopDocs {
	if c.topDocs == nil {
		return nil
	}

	page := collect.MergeTopDocs(c.sort, first, count, []*collect.TopDocs{c.topDocs})
	page.TotalHits = c.TotalHits()
	page.TimedOut = c.topDocs.TimedOut
	return page
}

// TimedOut reports whether any pass of the plan ran out of time.
func (c *Collectors) TimedOut() bool {
	return c.deadline.TimedOut() || (c.topDocs != nil && c.topDocs.TimedOut)
}

// Result returns the reduced value of a capability of the plan.
func Result[C collect.Collector, T any](c *Collectors, key *collect.Key[C, T]) (T, bool) {
	return collect.Get(c.results, key)
}

// CollectTopDocs scans again for hits beyond the first page, reusing the
// query, sort and deadline of the plan.
func (c *Collectors) CollectTopDocs(ctx context.Context, offset, limit int) (*collect.TopDocs, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative offset %d or limit %d", ErrInvalidRequirements, offset, limit)
	}

	if c.topDocs != nil && offset+limit <= c.numHits {
		return c.TopDocs(offset, limit), nil
	}

	numHits := offset + limit
	threshold := c.threshold
	if threshold == 0 && !c.matchAll {
		threshold = math.MaxUint64
	}

	scroll := &Collectors{
		deadline:            c.deadline,
		logger:              c.logger,
		requireScore:        c.requireScore,
		rewrittenQuery:      c.rewrittenQuery,
		scoreSortFieldIndex: -1,
		searcher:            c.searcher,
		sort:                c.sort,
		threshold:           threshold,
	}

	manager, err := scroll.newTopDocsManager(c.searcher.Reader(), numHits)
	if err != nil {
		return nil, err
	}

	ctx = c.withDeadline(ctx)
	builder := collect.NewMultiBuilder().WithDeadline(c.deadline)
	if err := collect.Add(builder, collect.TopDocsKey, collect.Manager[*collect.TopDocsCollector, *collect.TopDocs](manager)); err != nil {
		return nil, err
	}

	c.logger.Debug("collect more hits", "offset", offset, "limit", limit)

	results, err := search.Collect(ctx, c.searcher, c.rewrittenQuery, collect.Manager[collect.Collector, *collect.Results](builder.Build()))
	if err != nil {
		return nil, err
	}

	topDocs, _ := collect.Get(results, collect.TopDocsKey)
	topDocs, err = scroll.rescore(ctx, topDocs)
	if err != nil {
		return nil, err
	}

	page := collect.MergeTopDocs(c.sort, offset, limit, []*collect.TopDocs{topDocs})
	if c.matchAll {
		page.TotalHits = c.TotalHits()
	}
	return page, nil
}
