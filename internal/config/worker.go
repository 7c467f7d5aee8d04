package config

import (
	"log/slog"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// WorkerConfig configures internal/worker.Runtime: per-queue
// concurrency (spec.md §5 defaults: fetch/normalize 5, media 2,
// enrichment 3), health port, and shutdown grace period.
type WorkerConfig struct {
	FetchConcurrency      int
	NormalizeConcurrency  int
	MediaConcurrency      int
	EnrichmentConcurrency int
	HealthPort            int
	ShutdownGracePeriod   time.Duration
	VisibilityLease       time.Duration
	ReapInterval          time.Duration
	GCInterval            time.Duration
}

func loadWorkerConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) WorkerConfig {
	load := func(field, env string, def, min, max int) int {
		r := pkgconfig.LoadEnvInt(env, def, intInRange(min, max))
		if r.FallbackApplied {
			warnFallback(logger, metrics, field, r.Warnings)
		}
		return r.Value.(int)
	}

	healthPort := load("worker_health_port", "WORKER_HEALTH_PORT", 9091, 1024, 65535)

	grace := pkgconfig.LoadEnvDuration("WORKER_SHUTDOWN_GRACE", 30*time.Second, durationInRange(time.Second, 10*time.Minute))
	if grace.FallbackApplied {
		warnFallback(logger, metrics, "worker_shutdown_grace", grace.Warnings)
	}
	lease := pkgconfig.LoadEnvDuration("WORKER_VISIBILITY_LEASE", 5*time.Minute, durationInRange(time.Second, time.Hour))
	if lease.FallbackApplied {
		warnFallback(logger, metrics, "worker_visibility_lease", lease.Warnings)
	}
	reap := pkgconfig.LoadEnvDuration("WORKER_REAP_INTERVAL", 30*time.Second, durationInRange(time.Second, time.Hour))
	if reap.FallbackApplied {
		warnFallback(logger, metrics, "worker_reap_interval", reap.Warnings)
	}
	gc := pkgconfig.LoadEnvDuration("WORKER_GC_INTERVAL", 5*time.Minute, durationInRange(time.Second, 24*time.Hour))
	if gc.FallbackApplied {
		warnFallback(logger, metrics, "worker_gc_interval", gc.Warnings)
	}

	return WorkerConfig{
		FetchConcurrency:      load("worker_fetch_concurrency", "WORKER_FETCH_CONCURRENCY", 5, 1, 64),
		NormalizeConcurrency:  load("worker_normalize_concurrency", "WORKER_NORMALIZE_CONCURRENCY", 5, 1, 64),
		MediaConcurrency:      load("worker_media_concurrency", "WORKER_MEDIA_CONCURRENCY", 2, 1, 16),
		EnrichmentConcurrency: load("worker_enrichment_concurrency", "WORKER_ENRICHMENT_CONCURRENCY", 3, 1, 32),
		HealthPort:            healthPort,
		ShutdownGracePeriod:   grace.Value.(time.Duration),
		VisibilityLease:       lease.Value.(time.Duration),
		ReapInterval:          reap.Value.(time.Duration),
		GCInterval:            gc.Value.(time.Duration),
	}
}
