package config

import (
	"log/slog"
	"time"

	pkgconfig "contentpipe/internal/pkg/config"
)

// BreakerConfig configures internal/breaker.Registry (spec.md §6
// breaker_{failure_threshold,reset_timeout_ms,half_open_probes}).
type BreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenProbes   uint32
}

func loadBreakerConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) BreakerConfig {
	threshold := pkgconfig.LoadEnvInt("BREAKER_FAILURE_THRESHOLD", 5, intInRange(1, 100))
	if threshold.FallbackApplied {
		warnFallback(logger, metrics, "breaker_failure_threshold", threshold.Warnings)
	}
	reset := pkgconfig.LoadEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second, durationInRange(time.Second, 10*time.Minute))
	if reset.FallbackApplied {
		warnFallback(logger, metrics, "breaker_reset_timeout", reset.Warnings)
	}
	probes := pkgconfig.LoadEnvInt("BREAKER_HALF_OPEN_PROBES", 3, intInRange(1, 50))
	if probes.FallbackApplied {
		warnFallback(logger, metrics, "breaker_half_open_probes", probes.Warnings)
	}

	return BreakerConfig{
		FailureThreshold: uint32(threshold.Value.(int)),
		ResetTimeout:     reset.Value.(time.Duration),
		HalfOpenProbes:   uint32(probes.Value.(int)),
	}
}

// RateLimitConfig configures internal/ratelimit's per-kind overrides
// (spec.md §6 rate_limit_{window_ms,max_requests,per-kind overrides}).
// Per-kind defaults live in internal/ratelimit.KindDefaults; this struct
// only carries an optional global override applied on top of them.
type RateLimitConfig struct {
	WindowOverride      time.Duration
	MaxRequestsOverride int
}

func loadRateLimitConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) RateLimitConfig {
	window := pkgconfig.LoadEnvDuration("RATE_LIMIT_WINDOW", 0, func(d time.Duration) error { return nil })
	maxReq := pkgconfig.LoadEnvInt("RATE_LIMIT_MAX_REQUESTS", 0, func(v int) error { return nil })
	return RateLimitConfig{
		WindowOverride:      window.Value.(time.Duration),
		MaxRequestsOverride: maxReq.Value.(int),
	}
}

// ProviderConfig carries the optional per-provider API keys gating the
// VIDEO_CHANNEL/FORUM/MICROBLOG fetch adapters (spec.md §6: "absence
// disables those adapters") plus the source allowlist path for
// full-article scraping.
type ProviderConfig struct {
	VideoChannelAPIKey  string
	VideoChannelBaseURL string
	ForumAPIKey         string
	ForumBaseURL        string
	MicroblogAPIKey     string
	MicroblogBaseURL    string
	SourceAllowlistPath string
}

func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		VideoChannelAPIKey:  pkgconfig.LoadEnvString("VIDEO_CHANNEL_API_KEY", ""),
		VideoChannelBaseURL: pkgconfig.LoadEnvString("VIDEO_CHANNEL_API_BASE_URL", ""),
		ForumAPIKey:         pkgconfig.LoadEnvString("FORUM_API_KEY", ""),
		ForumBaseURL:        pkgconfig.LoadEnvString("FORUM_API_BASE_URL", ""),
		MicroblogAPIKey:     pkgconfig.LoadEnvString("MICROBLOG_API_KEY", ""),
		MicroblogBaseURL:    pkgconfig.LoadEnvString("MICROBLOG_API_BASE_URL", ""),
		SourceAllowlistPath: pkgconfig.LoadEnvString("SOURCE_ALLOWLIST_PATH", ""),
	}
}

// SummarizerConfig configures the optional AI summarization enrichment
// supplement (SPEC_FULL §4.I): SUMMARIZER_PROVIDER-selected
// Claude/OpenAI clients.
type SummarizerConfig struct {
	Provider string // "claude", "openai", or "" (disabled)
	APIKey   string
	Model    string
}

func loadSummarizerConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) SummarizerConfig {
	provider := pkgconfig.LoadEnvString("SUMMARIZER_PROVIDER", "")
	var apiKey, model string
	switch provider {
	case "claude":
		apiKey = pkgconfig.LoadEnvString("ANTHROPIC_API_KEY", "")
		model = pkgconfig.LoadEnvString("SUMMARIZER_MODEL", "claude-3-5-haiku-latest")
		if apiKey == "" {
			logger.Warn("SUMMARIZER_PROVIDER=claude but ANTHROPIC_API_KEY is empty, disabling summarizer")
			provider = ""
		}
	case "openai":
		apiKey = pkgconfig.LoadEnvString("OPENAI_API_KEY", "")
		model = pkgconfig.LoadEnvString("SUMMARIZER_MODEL", "gpt-4o-mini")
		if apiKey == "" {
			logger.Warn("SUMMARIZER_PROVIDER=openai but OPENAI_API_KEY is empty, disabling summarizer")
			provider = ""
		}
	case "":
		// disabled
	default:
		logger.Warn("unknown SUMMARIZER_PROVIDER, disabling summarizer", slog.String("provider", provider))
		provider = ""
	}
	return SummarizerConfig{Provider: provider, APIKey: apiKey, Model: model}
}
