package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contentpipe/internal/domain/entity"
)

// PrometheusMetrics records admission outcomes against its own private
// *prometheus.Registry rather than the process default, so the
// limiter's cardinality (one series per source id) stays isolated from
// the default /metrics surface; cmd/worker mounts the private registry
// under /metrics/ratelimit.
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	allowedTotal  *prometheus.CounterVec
	deniedTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics builds the collector set on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,
		allowedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_admissions_total",
				Help: "Fetch calls admitted by the per-source sliding window",
			},
			[]string{"source_kind", "source_id"},
		),
		deniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_denials_total",
				Help: "Fetch calls denied by the per-source sliding window",
			},
			[]string{"source_kind", "source_id"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_check_duration_seconds",
				Help:    "Time taken by one admission check against the store",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"source_kind"},
		),
	}
	registry.MustRegister(m.allowedTotal, m.deniedTotal, m.checkDuration)
	return m
}

// Registry exposes the private registry for mounting a scrape handler.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordAllowed(kind entity.SourceKind, sourceID string) {
	m.allowedTotal.WithLabelValues(string(kind), sourceID).Inc()
}

func (m *PrometheusMetrics) RecordDenied(kind entity.SourceKind, sourceID string) {
	m.deniedTotal.WithLabelValues(string(kind), sourceID).Inc()
}

func (m *PrometheusMetrics) RecordCheckDuration(kind entity.SourceKind, duration time.Duration) {
	m.checkDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}
