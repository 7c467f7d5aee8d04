package config

import (
	"log/slog"
	"os"

	pkgconfig "contentpipe/internal/pkg/config"
)

// QueueConfig configures the shared Redis connection backing
// internal/queue, internal/dedup, and internal/ratelimit (spec.md §6
// queue_store_url). An empty StoreURL is a safe default: cmd/worker
// falls back to the in-memory backends for all three, suitable for a
// single-process deployment or local development.
type QueueConfig struct {
	StoreURL string
}

func loadQueueConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) QueueConfig {
	url := os.Getenv("QUEUE_STORE_URL")
	if url == "" {
		warnFallback(logger, metrics, "queue_store_url", []string{"QUEUE_STORE_URL not set, using in-memory queue/dedup/rate-limit stores"})
	}
	return QueueConfig{StoreURL: url}
}
