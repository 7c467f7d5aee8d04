// Package config loads the pipeline's configuration keys (spec.md §6)
// using the fail-open env-loading pattern
// (internal/pkg/config.LoadEnvWithFallback/LoadEnvInt/LoadEnvDuration):
// every field always ends up with a valid value, falling back to a
// documented default and a logged warning rather than failing startup.
// ConfigError (the one taxonomy kind that does fail fast) is reserved for
// keys with no safe default, handled explicitly in Load.
package config

import (
	"fmt"
	"log/slog"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
	"contentpipe/internal/domain/entity"
)

// Config aggregates every configuration block the worker needs. Each
// block is independently loadable so cmd/admin (which only needs CMS and
// Queue) doesn't have to load media/transcriber settings it never uses.
type Config struct {
	CMS         CMSConfig
	ObjectStore ObjectStoreConfig
	Transcriber TranscriberConfig
	Embedder    EmbedderConfig
	Media       MediaConfig
	Worker      WorkerConfig
	Breaker     BreakerConfig
	RateLimit   RateLimitConfig
	Providers   ProviderConfig
	Summarizer  SummarizerConfig
	Normalize   NormalizeConfig
	Queue       QueueConfig
	Admin       AdminConfig
}

// Load reads every block from the environment using the fail-open
// strategy, logging one warning per fallback applied. It returns
// ConfigError only for keys that have no safe default (collaborator base
// URL and service token); everything else always succeeds.
func Load(logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := pkgconfig.NewConfigMetrics("pipeline")

	cms, err := loadCMSConfig(logger, metrics)
	if err != nil {
		return Config{}, entity.NewError(entity.KindConfigError, err)
	}

	return Config{
		CMS:         cms,
		ObjectStore: loadObjectStoreConfig(logger, metrics),
		Transcriber: loadTranscriberConfig(logger, metrics),
		Embedder:    loadEmbedderConfig(logger, metrics),
		Media:       loadMediaConfig(logger, metrics),
		Worker:      loadWorkerConfig(logger, metrics),
		Breaker:     loadBreakerConfig(logger, metrics),
		RateLimit:   loadRateLimitConfig(logger, metrics),
		Providers:   loadProviderConfig(),
		Summarizer:  loadSummarizerConfig(logger, metrics),
		Normalize:   loadNormalizeConfig(logger, metrics),
		Queue:       loadQueueConfig(logger, metrics),
		Admin:       loadAdminConfig(logger, metrics),
	}, nil
}

// warnFallback logs a fallback applied to field in one consistent
// shape and records it against metrics.
func warnFallback(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics, field string, warnings []string) {
	metrics.RecordValidationError(field)
	metrics.RecordFallback(field, "default")
	for _, w := range warnings {
		logger.Warn("configuration fallback applied", slog.String("field", field), slog.String("warning", w))
	}
}

func durationInRange(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error { return pkgconfig.ValidateDuration(d, min, max) }
}

func intInRange(min, max int) func(int) error {
	return func(v int) error { return pkgconfig.ValidateIntRange(v, min, max) }
}

func nonEmpty(field string) func(string) error {
	return func(v string) error {
		if v == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}
