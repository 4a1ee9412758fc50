// Package search runs queries over an index reader: one scan per segment
// feeding the collectors of a manager, then a single reduce.
package search

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/index"
	"github.com/larose/harvest/search/query"
	"golang.org/x/sync/errgroup"
)

// CheckDoneEvery is how many documents a segment scan visits between two
// checks of the context.
const CheckDoneEvery = 1024

type Searcher struct {
	fieldSortTracksScores bool
	logger                *slog.Logger
	metrics               Metrics
	parallelism           int
	reader                *index.IndexReader
}

type Option func(*Searcher)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithParallelism sets how many segments are scanned concurrently. Values
// below 1 use one goroutine per CPU.
func WithParallelism(parallelism int) Option {
	return func(s *Searcher) {
		if parallelism < 1 {
			parallelism = runtime.GOMAXPROCS(0)
		}
		s.parallelism = parallelism
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(s *Searcher) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithFieldSortScores declares whether hits collected with a field sort
// carry their scores. When they do not, scores are computed by a second pass
// over the returned hits.
func WithFieldSortScores(enabled bool) Option {
	return func(s *Searcher) {
		s.fieldSortTracksScores = enabled
	}
}

func NewSearcher(reader *index.IndexReader, opts ...Option) *Searcher {
	s := &Searcher{
		logger:      slog.Default(),
		metrics:     NoopMetrics{},
		parallelism: 1,
		reader:      reader,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Searcher) Reader() *index.IndexReader {
	return s.reader
}

func (s *Searcher) Logger() *slog.Logger {
	return s.logger
}

func (s *Searcher) FieldSortTracksScores() bool {
	return s.fieldSortTracksScores
}

func (s *Searcher) Rewrite(q query.Query) (query.Query, error) {
	return query.Rewrite(q, s.reader)
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// Collect
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// timeoutRecorder keeps the first timeout observed by any segment.
type timeoutRecorder struct {
	mutex sync.Mutex
	err   *collect.TimeoutError
}

func (r *timeoutRecorder) record(err *collect.TimeoutError) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.err == nil {
		r.err = err
	}
}

func (r *timeoutRecorder) get() *collect.TimeoutError {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.err
}

// Collect runs q over every segment and reduces the collectors of manager.
//
// The manager creates exactly one collector per segment. Each segment feeds
// its collector the matching live root documents in increasing doc id order,
// and Reduce is called once, after every segment is done. A collector
// returning collect.ErrTerminated only ends its own segment. A timeout ends
// the segment it happened in and the segments not started yet are skipped;
// what was collected is still reduced and returned, unless the deadline of
// the context fails on timeout, in which case the *collect.TimeoutError is
// returned instead.
func Collect[C collect.Collector, T any](ctx context.Context, s *Searcher, q query.Query, manager collect.Manager[C, T]) (T, error) {
	var zero T
	start := time.Now()
	segments := s.reader.Segments
	deadline := collect.DeadlineFromContext(ctx)

	weight, err := q.Weight(s.reader, manager.ScoreMode().NeedsScores())
	if err != nil {
		s.metrics.RecordSearch(time.Since(start), len(segments), false, err)
		return zero, err
	}

	collectors := make([]C, len(segments))
	timeout := &timeoutRecorder{}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)

	for i, segment := range segments {
		group.Go(func() error {
			collector, err := manager.NewCollector(segment)
			if err != nil {
				return err
			}
			collectors[i] = collector

			if timeout.get() != nil {
				return nil
			}

			if deadline != nil {
				if err := deadline.Check(); err != nil {
					var timeoutErr *collect.TimeoutError
					if errors.As(err, &timeoutErr) {
						timeout.record(timeoutErr)
					}
					return nil
				}
			}

			segmentStart := time.Now()
			visited, err := scanSegment(groupCtx, weight, segment, collector)
			s.metrics.RecordSegment(time.Since(segmentStart), visited)

			var timeoutErr *collect.TimeoutError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &timeoutErr):
				timeout.record(timeoutErr)
				return nil
			case errors.Is(err, collect.ErrTimedOut):
				timeout.record(&collect.TimeoutError{Elapsed: time.Since(start)})
				return nil
			default:
				return err
			}
		})
	}

	if err := group.Wait(); err != nil {
		s.logger.Error("search failed", "query", q.String(), "error", err)
		s.metrics.RecordSearch(time.Since(start), len(segments), false, err)
		return zero, err
	}

	reduceStart := time.Now()
	result, err := manager.Reduce(collectors)
	s.metrics.RecordReduce(time.Since(reduceStart), err)
	if err != nil {
		s.logger.Error("reduce failed", "query", q.String(), "error", err)
		s.metrics.RecordSearch(time.Since(start), len(segments), false, err)
		return zero, err
	}

	took := time.Since(start)
	timeoutErr := timeout.get()

	if timeoutErr != nil {
		s.logger.Warn("search timed out", "query", q.String(), "elapsed", timeoutErr.Elapsed, "budget", timeoutErr.Budget)

		if timeoutErr.Fail {
			s.metrics.RecordSearch(took, len(segments), true, timeoutErr)
			return zero, timeoutErr
		}
	}

	s.logger.Debug("search", "query", q.String(), "segments", len(segments), "timed_out", timeoutErr != nil, "took", took)
	s.metrics.RecordSearch(took, len(segments), timeoutErr != nil, nil)

	return result, nil
}

func scanSegment(ctx context.Context, weight query.Weight, segment *index.SegmentReader, collector collect.Collector) (uint64, error) {
	scorer, err := weight.Scorer(segment)
	if err != nil || scorer == nil {
		return 0, err
	}

	var visited uint64
	for scorer.Next() {
		doc := scorer.DocId()
		if !segment.IsLive(doc) {
			continue
		}

		visited++
		if visited%CheckDoneEvery == 0 {
			if err := ctx.Err(); err != nil {
				return visited, err
			}
		}

		if err := collector.Collect(doc, scorer); err != nil {
			if errors.Is(err, collect.ErrTerminated) {
				return visited, nil
			}
			return visited, err
		}
	}

	return visited, ctx.Err()
}
