package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets define the service level objectives for the pipeline.
// These targets are used to measure and monitor job-processing
// reliability across the fetch/normalize/media/enrichment queues.
const (
	// AvailabilitySLO defines the target ratio of jobs that complete
	// without exhausting their retry budget (99% of jobs succeed)
	AvailabilitySLO = 99.0

	// ErrorRateSLO defines the maximum acceptable terminal-failure rate
	// as a ratio (1% = 0.01)
	ErrorRateSLO = 0.01
)

// SLO tracking metrics
// These gauges are updated periodically (on the worker supervisor's GC
// cadence) from queue.Store.Counts snapshots to track whether the
// pipeline is meeting its SLO targets. Job latency percentiles are left
// to recording rules over pipeline_job_duration_seconds rather than
// computed in-process.
var (
	// SLOAvailability tracks the current availability ratio (0-1)
	// calculated as: completed_jobs / (completed_jobs + failed_jobs)
	SLOAvailability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_availability_ratio",
			Help: "Current job completion ratio (0-1), target: 0.99",
		},
	)

	// SLOErrorRate tracks the current terminal-failure ratio (0-1)
	// calculated as: failed_jobs / (completed_jobs + failed_jobs)
	SLOErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_error_rate_ratio",
			Help: "Current terminal job failure ratio (0-1), target: 0.01",
		},
	)
)

// UpdateAvailability updates the availability SLO metric.
// Call this periodically with the calculated completion ratio.
//
// Example calculation:
//
//	availability := float64(completed) / float64(completed + failed)
//	slo.UpdateAvailability(availability)
func UpdateAvailability(ratio float64) {
	SLOAvailability.Set(ratio)
}

// UpdateErrorRate updates the error rate SLO metric.
// Call this periodically with the calculated terminal-failure ratio.
//
// Example calculation:
//
//	errorRate := float64(failed) / float64(completed + failed)
//	slo.UpdateErrorRate(errorRate)
func UpdateErrorRate(ratio float64) {
	SLOErrorRate.Set(ratio)
}
