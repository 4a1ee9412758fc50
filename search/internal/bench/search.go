package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/larose/harvest/search"
	"github.com/larose/harvest/search/collect"
	"github.com/larose/harvest/search/config"
	"github.com/larose/harvest/search/extract"
	"github.com/larose/harvest/search/geo"
	"github.com/larose/harvest/search/index"
	"github.com/larose/harvest/search/query"
)

const (
	runs     = 10
	pageSize = 10
)

var montreal = geo.Point{Lat: 45.5019, Lon: -73.5674}

type benchmark struct {
	name      string
	request   extract.Request
	extractor extract.HitExtractor
}

func benchmarks(threshold uint64) []benchmark {
	coffee := query.NewMatchQuery("body", "coffee espresso")
	downtownCafes := query.NewBooleanQuery(
		&query.BooleanClause{Type: query.Must, Query: query.NewTermQuery("category", []byte("cafe"))},
		&query.BooleanClause{Type: query.Should, Query: query.NewMatchQuery("title", "downtown")},
	)

	return []benchmark{
		{
			name:      "score",
			request:   extract.Request{Query: coffee, MaxDocs: pageSize, TotalHitCountThreshold: threshold},
			extractor: extract.CompositeExtractor(extract.ReferenceExtractor("id"), extract.ScoreExtractor()),
		},
		{
			name: "rating",
			request: extract.Request{
				Query:                  downtownCafes,
				Sort:                   collect.ByFields(collect.SortField{Field: "rating", Type: collect.SortNumeric, Reverse: true}),
				MaxDocs:                pageSize,
				TotalHitCountThreshold: threshold,
			},
			extractor: extract.CompositeExtractor(extract.ReferenceExtractor("id"), extract.ScoreExtractor(), extract.FieldExtractor("rating")),
		},
		{
			name: "distance",
			request: extract.Request{
				Query:                  coffee,
				Sort:                   collect.ByFields(collect.SortField{Field: "location", Type: collect.SortDistance, Center: montreal}),
				MaxDocs:                pageSize,
				TotalHitCountThreshold: threshold,
			},
			extractor: extract.CompositeExtractor(
				extract.ReferenceExtractor("id"),
				extract.DistanceExtractor("location", montreal),
				extract.FieldExtractor("offices.city"),
			),
		},
		{
			name:      "count",
			request:   extract.Request{Query: query.NewMatchAllQuery(), TotalHitCountThreshold: math.MaxUint64},
			extractor: extract.ReferenceExtractor("id"),
		},
	}
}

func run(ctx context.Context, searcher *search.Searcher, cfg config.SearchConfig, b benchmark) (*extract.Collectors, []any, error) {
	requirements, err := extract.Contribute(extract.NewRequirementsBuilder(), b.extractor).Build()
	if err != nil {
		return nil, nil, err
	}

	request := b.request
	request.Deadline = cfg.NewDeadline()

	plan, err := requirements.CreateCollectors(searcher, request)
	if err != nil {
		return nil, nil, err
	}

	if err := plan.Collect(ctx); err != nil {
		return nil, nil, err
	}

	topDocs := plan.TopDocs(0, pageSize)
	if topDocs == nil {
		return plan, nil, nil
	}

	hits, err := plan.LoadHits(ctx, topDocs.ScoreDocs, b.extractor)
	if err != nil {
		return nil, nil, err
	}

	return plan, hits, nil
}

func _search(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	t, err := startTelemetry(ctx, logger, cfg.Metrics)
	if err != nil {
		return err
	}

	stopProfiler, err := startCpuProfiler(logger, "search.cpu.pprof")
	if err != nil {
		return err
	}
	defer stopProfiler()

	indexReader, err := index.NewIndexReader(cfg.Index.Directory)
	if err != nil {
		return err
	}
	defer indexReader.Close()

	options := append(cfg.Search.SearcherOptions(), search.WithLogger(logger))
	if t != nil {
		options = append(options, search.WithMetrics(t))
		defer t.Shutdown(context.Background())
	}
	searcher := search.NewSearcher(indexReader, options...)

	for _, b := range benchmarks(cfg.Search.TotalHitCountThreshold) {
		var best time.Duration = math.MaxInt64
		var plan *extract.Collectors
		var hits []any

		for i := 0; i < runs; i++ {
			start := time.Now()

			plan, hits, err = run(ctx, searcher, cfg.Search, b)
			if err != nil {
				return fmt.Errorf("%s: %w", b.name, err)
			}

			if elapsed := time.Since(start); elapsed < best {
				best = elapsed
			}
		}

		total := plan.TotalHits()
		logger.Info("benchmark",
			"name", b.name,
			"query", plan.Query().String(),
			"best_us", best.Microseconds(),
			"total_hits", total.Value,
			"exact", total.Relation == collect.EqualTo,
			"hits", len(hits),
			"timed_out", plan.TimedOut(),
		)

		for _, hit := range hits {
			logger.Debug("hit", "name", b.name, "value", hit)
		}
	}

	return nil
}
