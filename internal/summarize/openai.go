package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"contentpipe/internal/breaker"
	"contentpipe/internal/resilience/retry"
	"contentpipe/internal/utils/text"
)

// OpenAI summarizes via the Chat Completions API, wrapped by
// internal/breaker and internal/resilience/retry the same way Claude is.
type OpenAI struct {
	client   *openai.Client
	breakers *breaker.Registry
	model    string
}

// NewOpenAI builds an OpenAI summarizer.
func NewOpenAI(apiKey, model string, breakers *breaker.Registry) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		client:   openai.NewClient(apiKey),
		breakers: breakers,
		model:    model,
	}
}

func (o *OpenAI) Summarize(ctx context.Context, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := o.breakers.Execute(ctx, summarizeDependency, func(ctx context.Context) (interface{}, error) {
		var out string
		retryErr := retry.WithBackoff(ctx, retry.AIAPIConfig(), func() error {
			s, doErr := o.doSummarize(ctx, body)
			if doErr == nil {
				out = s
			}
			return doErr
		})
		return out, retryErr
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return "", fmt.Errorf("openai summarizer unavailable: %w", err)
		}
		return "", fmt.Errorf("openai summarize failed: %w", err)
	}
	return result.(string), nil
}

func (o *OpenAI) doSummarize(ctx context.Context, body string) (string, error) {
	const maxChars = 10000
	truncated := body
	if text.CountRunes(body) > maxChars {
		truncated = text.TruncateRunes(body, maxChars) + "...\n(truncated for length)"
	}
	prompt := fmt.Sprintf("Summarize the following text in English in %d characters or fewer:\n%s", characterLimit, truncated)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
