package config

import (
	"log/slog"

	pkgconfig "contentpipe/internal/pkg/config"
	publicconfig "contentpipe/pkg/config"
)

// NormalizeConfig configures internal/normalize's moderation step
// (spec.md §4.G step 3). The blocked-keyword list has no configuration
// key of its own in spec.md §6; it is carried here as an operator-tuned
// deployment setting, with a conservative built-in default so
// moderation behaves sanely with no environment configured.
type NormalizeConfig struct {
	BlockedKeywords   []string
	MinContentLength  int
}

var defaultBlockedKeywords = []string{"xxx-spam-marker"}

func loadNormalizeConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) NormalizeConfig {
	minLen := pkgconfig.LoadEnvInt("NORMALIZE_MIN_CONTENT_LENGTH", 80, intInRange(1, 10000))
	if minLen.FallbackApplied {
		warnFallback(logger, metrics, "normalize_min_content_length", minLen.Warnings)
	}

	keywords := publicconfig.GetEnvStringList("NORMALIZE_BLOCKED_KEYWORDS", defaultBlockedKeywords)

	return NormalizeConfig{
		BlockedKeywords:  keywords,
		MinContentLength: minLen.Value.(int),
	}
}
