// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestSize measures HTTP request body size in bytes
	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize measures HTTP response body size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks the number of active HTTP connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)
)

// Ingestion metrics track the fetch and normalize stages
var (
	// ItemsFetchedTotal counts raw items produced per source
	ItemsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_fetched_total",
			Help: "Total number of raw items fetched from sources",
		},
		[]string{"source_kind", "source_id"},
	)

	// FetchBatchDuration measures time to run one fetch job against a source
	FetchBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_batch_duration_seconds",
			Help:    "Time taken to run one fetch job against a source",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"source_kind"},
	)

	// FetchErrorsTotal counts fetch failures by source kind and error kind
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_errors_total",
			Help: "Total number of fetch failures",
		},
		[]string{"source_kind", "error_kind"},
	)

	// ItemsNormalizedTotal counts per-item normalize outcomes
	ItemsNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_normalized_total",
			Help: "Total number of raw items run through normalize, by outcome",
		},
		// outcome: created, failed, filtered, duplicate,
		// moderation_approved, moderation_review, moderation_rejected
		[]string{"outcome"},
	)
)

// Enrichment metrics track the media and enrichment stages
var (
	// TranscodeDuration measures time to transcode one downloaded media file
	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_transcode_duration_seconds",
			Help:    "Time taken to transcode a downloaded media file",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// TranscriptsCreatedTotal counts transcript pass outcomes by status
	TranscriptsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcripts_created_total",
			Help: "Total number of transcript attempts, by outcome",
		},
		[]string{"status"}, // status: created, empty, failed
	)

	// EmbeddingsStoredTotal counts embedding pass outcomes by status
	EmbeddingsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embeddings_stored_total",
			Help: "Total number of embedding attempts, by outcome",
		},
		[]string{"status"}, // status: stored, failed
	)

	// SummariesGeneratedTotal counts summaries generated by status
	SummariesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_generated_total",
			Help: "Total number of transcript summaries generated",
		},
		[]string{"status"},
	)

	// SummarizationDuration measures time to summarize a transcript
	SummarizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "summarization_duration_seconds",
			Help:    "Time taken to summarize a transcript",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration, requestSize, responseSize int) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())

	if requestSize > 0 {
		HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}
