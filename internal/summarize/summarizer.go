// Package summarize implements the optional AI summarization supplement
// to the enrichment stage. It is best-effort: spec.md §4.I treats
// transcript and embedding as best-effort and SPEC_FULL extends that
// same policy to summarization — a failure here is logged, never
// propagated as a job failure. Claude and OpenAI adapters share one
// interface, each wrapped in internal/breaker and
// internal/resilience/retry, selected by config.SummarizerConfig.
package summarize

import (
	"context"
	"fmt"
)

// Summarizer produces a short summary of body text. Disabled returns a
// Summarizer whose Summarize always fails fast with a sentinel the
// enrichment stage recognizes as "nothing to do."
type Summarizer interface {
	Summarize(ctx context.Context, body string) (string, error)
}

// ErrDisabled is returned by the no-op summarizer; enrichment treats it
// as "no summary attempted", not a failure worth logging.
var ErrDisabled = fmt.Errorf("summarize: disabled")

// NoOp is used when config.SummarizerConfig.Provider is empty.
type NoOp struct{}

func (NoOp) Summarize(context.Context, string) (string, error) {
	return "", ErrDisabled
}
