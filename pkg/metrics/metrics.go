// Package metrics provides Prometheus metrics for the engine, the transform
// pipeline, the bulk loader and duplicate detection.
//
// # Overview
//
// All metrics are registered with the default Prometheus registry when the
// package is imported. Components record through the helper functions below
// rather than touching the vectors directly, so label sets stay consistent.
//
// # Available Metrics
//
//	tabula_engine_queries_total{operation,status}
//	tabula_engine_query_duration_seconds{operation}
//	tabula_engine_state
//	tabula_transform_rows_total{outcome}
//	tabula_transform_duration_seconds{phase}
//	tabula_loader_batches_total{method}
//	tabula_loader_rows_total{method}
//	tabula_loader_fallbacks_total
//	tabula_loader_cleanup_failures_total{object}
//	tabula_dedup_checks_total{mode}
//	tabula_dedup_duplicates_total
//
// # Usage
//
//	start := time.Now()
//	res, err := conn.QueryContext(ctx, q)
//	metrics.ObserveQuery("query", start, err)
//
// Exposing the registry over HTTP is left to the embedding program:
//
//	http.Handle("/metrics", promhttp.Handler())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabula"

var (
	// QueriesTotal counts engine statements by operation (query, stream,
	// exec, transaction, export) and status (success/error).
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Total number of statements executed by the engine",
		},
		[]string{"operation", "status"},
	)

	// QueryDuration tracks statement latency in seconds.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Duration of engine statements in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
		},
		[]string{"operation"},
	)

	// EngineState is the numeric lifecycle state of the most recently
	// transitioned engine (0 uninitialized, 1 initializing, 2 ready, 3 closed).
	EngineState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Lifecycle state of the engine",
		},
	)

	// TransformRows counts checked rows by outcome (valid/invalid).
	TransformRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "rows_total",
			Help:      "Total number of transformed rows checked against a schema",
		},
		[]string{"outcome"},
	)

	// TransformDuration tracks transform phases (query, validate, total).
	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "duration_seconds",
			Help:      "Duration of transform phases in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"phase"},
	)

	// LoaderBatches counts loaded batches by strategy (inline, native, file).
	LoaderBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "batches_total",
			Help:      "Total number of batches loaded, by strategy",
		},
		[]string{"method"},
	)

	// LoaderRows counts loaded records by strategy.
	LoaderRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "rows_total",
			Help:      "Total number of records loaded, by strategy",
		},
		[]string{"method"},
	)

	// LoaderFallbacks counts native loads that fell back to inline.
	LoaderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "fallbacks_total",
			Help:      "Total number of native loads retried with the inline strategy",
		},
	)

	// LoaderCleanupFailures counts staging objects that could not be removed.
	// Labels: object (table, view, file)
	LoaderCleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "cleanup_failures_total",
			Help:      "Total number of staging objects that failed to clean up",
		},
		[]string{"object"},
	)

	// DedupChecks counts duplicate checks by lookup mode (attached, keystore,
	// unavailable).
	DedupChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "checks_total",
			Help:      "Total number of duplicate checks, by lookup mode",
		},
		[]string{"mode"},
	)

	// DedupDuplicates counts rows flagged as duplicates.
	DedupDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "duplicates_total",
			Help:      "Total number of rows flagged as duplicates",
		},
	)
)

// Status returns the status label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveQuery records one engine statement.
func ObserveQuery(operation string, start time.Time, err error) {
	QueriesTotal.WithLabelValues(operation, Status(err)).Inc()
	QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveTransform records a transform phase duration.
func ObserveTransform(phase string, d time.Duration) {
	TransformDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordRows adds valid and invalid row counts.
func RecordRows(valid, invalid int) {
	if valid > 0 {
		TransformRows.WithLabelValues("valid").Add(float64(valid))
	}
	if invalid > 0 {
		TransformRows.WithLabelValues("invalid").Add(float64(invalid))
	}
}

// RecordLoad records a loaded batch.
func RecordLoad(method string, rows int) {
	LoaderBatches.WithLabelValues(method).Inc()
	LoaderRows.WithLabelValues(method).Add(float64(rows))
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Start returns the start time.
func (t *Timer) Start() time.Time {
	return t.start
}
