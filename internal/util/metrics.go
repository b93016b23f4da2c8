package util

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_runs_total",
		Help: "Total number of pipeline runs by final state",
	}, []string{"status"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "etl_run_duration_seconds",
		Help:    "Wall time of complete pipeline runs",
		Buckets: prometheus.DefBuckets,
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_stage_duration_seconds",
		Help:    "Latency of individual pipeline stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	SourceRowsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_source_rows_extracted_total",
		Help: "Rows read from each source system",
	}, []string{"source"})

	SourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_source_failures_total",
		Help: "Extraction failures per source system",
	}, []string{"source"})

	MissingOrderIDsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_missing_order_ids_total",
		Help: "Rows whose order_id was missing and replaced by the sentinel",
	}, []string{"source"})

	DuplicateOrderIDsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etl_duplicate_order_ids_total",
		Help: "Rows flagged by the duplicate order_id check",
	})

	RowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etl_rows_written_total",
		Help: "Rows written to the output location",
	})

	LastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etl_last_success_timestamp_seconds",
		Help: "Unix time of the last run that reached the done state",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// PushMetrics pushes the default registry to a Prometheus Pushgateway. Batch
// runs call it once before exiting.
func PushMetrics(ctx context.Context, gatewayURL, job string) error {
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
