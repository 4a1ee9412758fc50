// Package telemetry exports search metrics to Prometheus through an
// OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusotel "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "harvest"

// Telemetry records searcher timings. It implements search.Metrics.
type Telemetry struct {
	handler  http.Handler
	logger   *slog.Logger
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	searches       metric.Int64Counter
	searchErrors   metric.Int64Counter
	searchTimeouts metric.Int64Counter
	searchLatency  metric.Float64Histogram
	segmentLatency metric.Float64Histogram
	segmentDocs    metric.Int64Counter
	reduceLatency  metric.Float64Histogram

	segmentsPerSearch prometheus.Histogram
}

func New(logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := prometheusotel.New(prometheusotel.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	t := &Telemetry{
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:   logger,
		provider: provider,
		registry: registry,
	}

	if t.searches, err = meter.Int64Counter("search_executions_total", metric.WithDescription("Query executions")); err != nil {
		return nil, err
	}
	if t.searchErrors, err = meter.Int64Counter("search_errors_total", metric.WithDescription("Query executions that failed")); err != nil {
		return nil, err
	}
	if t.searchTimeouts, err = meter.Int64Counter("search_timeouts_total", metric.WithDescription("Query executions that ran out of time")); err != nil {
		return nil, err
	}
	if t.searchLatency, err = meter.Float64Histogram("search_latency_ms", metric.WithDescription("Latency of query executions"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.segmentLatency, err = meter.Float64Histogram("search_segment_latency_ms", metric.WithDescription("Latency of one segment scan"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.segmentDocs, err = meter.Int64Counter("search_segment_documents_total", metric.WithDescription("Matching documents visited by segment scans")); err != nil {
		return nil, err
	}
	if t.reduceLatency, err = meter.Float64Histogram("search_reduce_latency_ms", metric.WithDescription("Latency of reducing segment collectors"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	t.segmentsPerSearch = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: meterName,
		Name:      "segments_per_search",
		Help:      "Segments scanned by one query execution",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})
	registry.MustRegister(t.segmentsPerSearch)

	logger.Info("telemetry initialized", "prometheus", true)
	return t, nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (t *Telemetry) RecordSearch(duration time.Duration, segments int, timedOut bool, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("timed_out", timedOut), attribute.Bool("failed", err != nil))

	t.searches.Add(ctx, 1, attrs)
	t.searchLatency.Record(ctx, milliseconds(duration), attrs)
	t.segmentsPerSearch.Observe(float64(segments))

	if timedOut {
		t.searchTimeouts.Add(ctx, 1)
	}
	if err != nil {
		t.searchErrors.Add(ctx, 1)
	}
}

func (t *Telemetry) RecordSegment(duration time.Duration, visited uint64) {
	ctx := context.Background()
	t.segmentLatency.Record(ctx, milliseconds(duration))
	t.segmentDocs.Add(ctx, int64(visited))
}

func (t *Telemetry) RecordReduce(duration time.Duration, err error) {
	ctx := context.Background()
	t.reduceLatency.Record(ctx, milliseconds(duration), metric.WithAttributes(attribute.Bool("failed", err != nil)))
}

// Handler serves the registry in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Serve exposes Handler on /metrics until ctx is done.
func (t *Telemetry) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.handler)

	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	t.logger.Info("serving metrics", "listen", listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
