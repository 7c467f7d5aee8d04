package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"contentpipe/internal/breaker"
	"contentpipe/internal/resilience/retry"
	"contentpipe/internal/utils/text"
)

// characterLimit caps the summary length stored alongside a transcript.
const characterLimit = 900

// maxInputChars truncates very long bodies before they reach the model,
// with headroom for the model occasionally running long.
const maxInputChars = 10000

// Claude summarizes via Anthropic's API, wrapped by internal/breaker
// (DependencyEmbedder's sibling for AI calls) and internal/resilience/retry.
type Claude struct {
	client   anthropic.Client
	breakers *breaker.Registry
	model    string
}

// NewClaude builds a Claude summarizer.
func NewClaude(apiKey, model string, breakers *breaker.Registry) *Claude {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	return &Claude{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		breakers: breakers,
		model:    model,
	}
}

// summarizeDependency names the breaker dependency AI summarization
// calls share; a stalling summarizer shouldn't be allowed its own
// unbounded retry budget separate from the rest of the enrichment stage.
const summarizeDependency breaker.Dependency = "SUMMARIZER"

func (c *Claude) Summarize(ctx context.Context, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := c.breakers.Execute(ctx, summarizeDependency, func(ctx context.Context) (interface{}, error) {
		var out string
		retryErr := retry.WithBackoff(ctx, retry.AIAPIConfig(), func() error {
			s, doErr := c.doSummarize(ctx, body)
			if doErr == nil {
				out = s
			}
			return doErr
		})
		return out, retryErr
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return "", fmt.Errorf("claude summarizer unavailable: %w", err)
		}
		return "", fmt.Errorf("claude summarize failed: %w", err)
	}
	return result.(string), nil
}

func (c *Claude) doSummarize(ctx context.Context, body string) (string, error) {
	requestID := uuid.New().String()

	truncated := body
	if text.CountRunes(body) > maxInputChars {
		truncated = text.TruncateRunes(body, maxInputChars) + "...\n(truncated for length)"
	}
	prompt := fmt.Sprintf("Summarize the following text in English in %d characters or fewer:\n%s", characterLimit, truncated)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude api error: %w", err)
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("claude api returned empty response")
	}
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", fmt.Errorf("claude api returned unexpected response type")
	}

	summary := textBlock.Text
	if text.CountRunes(summary) > characterLimit {
		slog.WarnContext(ctx, "summary exceeds character limit",
			slog.String("request_id", requestID),
			slog.Int("length", text.CountRunes(summary)),
			slog.Int("limit", characterLimit))
	}
	return summary, nil
}
