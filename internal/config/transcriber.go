package config

import (
	"log/slog"
	"os"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// TranscriberConfig configures internal/transcriber.HTTPClient
// (spec.md §6 transcriber_url).
type TranscriberConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadTranscriberConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) TranscriberConfig {
	result := pkgconfig.LoadEnvDuration("TRANSCRIBER_TIMEOUT", 2*time.Minute, durationInRange(time.Second, 10*time.Minute))
	timeout := result.Value.(time.Duration)
	if result.FallbackApplied {
		warnFallback(logger, metrics, "transcriber_timeout", result.Warnings)
	}
	return TranscriberConfig{
		BaseURL: os.Getenv("TRANSCRIBER_URL"),
		Timeout: timeout,
	}
}

// EmbedderConfig configures internal/embedder.Client (spec.md §6
// embedding_model_name, embedding_dimension).
type EmbedderConfig struct {
	BaseURL   string
	ModelName string
	Dimension int
	Timeout   time.Duration
}

func loadEmbedderConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) EmbedderConfig {
	dimResult := pkgconfig.LoadEnvInt("EMBEDDING_DIMENSION", 384, intInRange(8, 4096))
	dim := dimResult.Value.(int)
	if dimResult.FallbackApplied {
		warnFallback(logger, metrics, "embedding_dimension", dimResult.Warnings)
	}

	timeoutResult := pkgconfig.LoadEnvDuration("EMBEDDER_TIMEOUT", 15*time.Second, durationInRange(time.Second, time.Minute))
	timeout := timeoutResult.Value.(time.Duration)
	if timeoutResult.FallbackApplied {
		warnFallback(logger, metrics, "embedder_timeout", timeoutResult.Warnings)
	}

	return EmbedderConfig{
		BaseURL:   os.Getenv("EMBEDDER_URL"),
		ModelName: pkgconfig.LoadEnvString("EMBEDDING_MODEL_NAME", "text-embedding-reference"),
		Dimension: dim,
		Timeout:   timeout,
	}
}
