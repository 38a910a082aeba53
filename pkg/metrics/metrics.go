// Package metrics defines the Prometheus metric collectors used across the
// index daemon and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the index daemon.
type Metrics struct {
	SearchQueriesTotal  *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	SearchResultsCount  prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	DocsIndexedTotal    prometheus.Counter
	DocsDeletedTotal    prometheus.Counter
	FlushesTotal        *prometheus.CounterVec
	FlushDuration       prometheus.Histogram
	MergesTotal         *prometheus.CounterVec
	MergeDuration       prometheus.Histogram
	SegmentCount        prometheus.Gauge
	StagingDocCount     prometheus.Gauge
	OplogLength         prometheus.Gauge
	DeleterPendingFiles prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpindex_search_queries_total",
				Help: "Total search queries by result type (hit, miss, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fpindex_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fpindex_search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fpindex_cache_hits_total",
				Help: "Total number of search-result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fpindex_cache_misses_total",
				Help: "Total number of search-result cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fpindex_docs_indexed_total",
				Help: "Total documents inserted or updated.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fpindex_docs_deleted_total",
				Help: "Total documents deleted.",
			},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpindex_flushes_total",
				Help: "Total writer commit cycles by status.",
			},
			[]string{"status"},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fpindex_flush_duration_seconds",
				Help:    "Duration of one writer commit cycle.",
				Buckets: prometheus.DefBuckets,
			},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpindex_merges_total",
				Help: "Total segment merges by status.",
			},
			[]string{"status"},
		),
		MergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fpindex_merge_duration_seconds",
				Help:    "Duration of one segment merge.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SegmentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fpindex_segment_count",
				Help: "Number of segments referenced by the current revision.",
			},
		),
		StagingDocCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fpindex_staging_doc_count",
				Help: "Number of documents currently held in the in-memory staging index.",
			},
		),
		OplogLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fpindex_oplog_length",
				Help: "Number of op-log entries not yet materialized into a segment.",
			},
		),
		DeleterPendingFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fpindex_deleter_pending_files",
				Help: "Number of unreferenced segment files whose deletion previously failed and is pending retry.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fpindex_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.FlushesTotal,
		m.FlushDuration,
		m.MergesTotal,
		m.MergeDuration,
		m.SegmentCount,
		m.StagingDocCount,
		m.OplogLength,
		m.DeleterPendingFiles,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
