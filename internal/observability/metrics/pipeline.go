package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics track the worker runtime's queues and the circuit
// breakers guarding every external collaborator (spec.md §4.D, §4.J).
// Grounded on this file's own HTTP/business metric vars above: same
// promauto-against-the-default-registerer shape, generalized from HTTP
// request/response labels to queue/dependency labels.
var (
	// JobsProcessedTotal counts completed queue jobs by queue and outcome.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total number of queue jobs processed, by queue and outcome",
		},
		[]string{"queue", "outcome"}, // outcome: completed, failed
	)

	// JobDuration measures handler execution time by queue.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Time taken to run a queue job's handler",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"queue"},
	)

	// QueueDepth tracks job population per queue and state (spec.md
	// §4.A's waiting/active/delayed/completed/failed state machine).
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of jobs in a queue, by state",
		},
		[]string{"queue", "state"},
	)

	// BreakerState tracks each dependency's circuit breaker state
	// (spec.md §4.D: 0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)
)

// RecordJobOutcome records one queue job's handler duration and outcome.
func RecordJobOutcome(queue string, duration time.Duration, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	JobsProcessedTotal.WithLabelValues(queue, outcome).Inc()
	JobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// SetQueueDepth updates the gauge for one queue/state pair. Called
// periodically by the worker runtime's supervisor loop from
// queue.Store.Counts.
func SetQueueDepth(queue, state string, count int) {
	QueueDepth.WithLabelValues(queue, state).Set(float64(count))
}

// breakerStateValue maps gobreaker's three states onto the same
// 0/1/2 scale internal/ratelimit.PrometheusMetrics already uses for its
// own circuit state gauge, so a dashboard built against one reads
// consistently against the other.
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerState updates dependency's breaker state gauge.
func RecordBreakerState(dependency, state string) {
	BreakerState.WithLabelValues(dependency).Set(breakerStateValue(state))
}
