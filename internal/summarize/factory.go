package summarize

import (
	"log/slog"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
)

// New builds the Summarizer selected by cfg.Provider (the
// SUMMARIZER_PROVIDER environment switch). An unrecognized or empty
// provider (config.loadSummarizerConfig already normalizes
// missing-API-key cases to "") yields NoOp.
func New(cfg config.SummarizerConfig, breakers *breaker.Registry, logger *slog.Logger) Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "claude":
		logger.Info("summarization enabled", slog.String("provider", "claude"), slog.String("model", cfg.Model))
		return NewClaude(cfg.APIKey, cfg.Model, breakers)
	case "openai":
		logger.Info("summarization enabled", slog.String("provider", "openai"), slog.String("model", cfg.Model))
		return NewOpenAI(cfg.APIKey, cfg.Model, breakers)
	default:
		logger.Info("summarization disabled")
		return NoOp{}
	}
}
