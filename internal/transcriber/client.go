// Package transcriber implements the enrichment stage's speech-to-text
// client (spec.md §6 "Transcriber"). The service accepts a multipart
// audio upload at POST /asr and replies with either a plain text body
// or, when asked for word timestamps, a JSON document carrying
// segments — spec.md §9 flags this shape variance as an open question
// to handle explicitly rather than guess a single format.
package transcriber

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/cms"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// Result is the outcome of one transcription request: full text plus,
// if the transcriber returned them, word-level timestamps and a
// detected language.
type Result struct {
	Text       string
	Language   string
	Timestamps []cms.TranscriptWord
}

// Client wraps the transcriber's HTTP surface.
type Client struct {
	httpClient *http.Client
	breakers   *breaker.Registry
	cfg        config.TranscriberConfig
}

// New builds a Client.
func New(cfg config.TranscriberConfig, breakers *breaker.Registry) *Client {
	return &Client{
		cfg:      cfg,
		breakers: breakers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// asrJSONResponse is the shape POST /asr?output=json&word_timestamps=true
// returns when it replies with segments instead of a bare text body.
type asrJSONResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe submits audio (already an extracted audio track if the
// source was a video container) and returns its text. wordTimestamps
// requests the segmented JSON response; when false the transcriber may
// still legitimately answer with either shape, so both are handled.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader, wordTimestamps bool) (Result, error) {
	result, err := c.breakers.Execute(ctx, breaker.DependencyTranscriber, func(ctx context.Context) (interface{}, error) {
		var out Result
		retryErr := retry.WithBackoff(ctx, retry.AIAPIConfig(), func() error {
			r, doErr := c.transcribeOnce(ctx, filename, audio, wordTimestamps)
			if doErr == nil {
				out = r
			}
			return doErr
		})
		return out, retryErr
	})
	if err != nil {
		return Result{}, classifyError(err)
	}
	return result.(Result), nil
}

func (c *Client) transcribeOnce(ctx context.Context, filename string, audio io.Reader, wordTimestamps bool) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return Result{}, fmt.Errorf("write audio to multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	url := c.cfg.BaseURL + "/asr"
	if wordTimestamps {
		url += "?output=json&word_timestamps=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build asr request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("asr request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read asr response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return parseASRResponse(resp.Header.Get("Content-Type"), respBody)
}

// parseASRResponse handles both response shapes the transcriber may send:
// a JSON document with segments, or a bare text body.
func parseASRResponse(contentType string, body []byte) (Result, error) {
	trimmed := bytes.TrimSpace(body)
	looksJSON := strings.Contains(contentType, "application/json") ||
		(len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['))

	if looksJSON {
		var parsed asrJSONResponse
		if err := json.Unmarshal(trimmed, &parsed); err == nil {
			words := make([]cms.TranscriptWord, 0, len(parsed.Segments))
			for _, s := range parsed.Segments {
				words = append(words, cms.TranscriptWord{Word: s.Word, Start: s.Start, End: s.End})
			}
			return Result{Text: parsed.Text, Language: parsed.Language, Timestamps: words}, nil
		}
	}

	return Result{Text: string(trimmed)}, nil
}

// DetectLanguage calls POST /detect-language with the same audio
// multipart shape as Transcribe.
func (c *Client) DetectLanguage(ctx context.Context, filename string, audio io.Reader) (string, error) {
	result, err := c.breakers.Execute(ctx, breaker.DependencyTranscriber, func(ctx context.Context) (interface{}, error) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("audio", filename)
		if err != nil {
			return "", fmt.Errorf("build multipart request: %w", err)
		}
		if _, err := io.Copy(part, audio); err != nil {
			return "", fmt.Errorf("write audio to multipart body: %w", err)
		}
		if err := writer.Close(); err != nil {
			return "", fmt.Errorf("close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/detect-language", &body)
		if err != nil {
			return "", fmt.Errorf("build detect-language request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("detect-language request failed: %w", err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		var out struct {
			Language string `json:"language"`
		}
		if err := json.Unmarshal(bytes.TrimSpace(respBody), &out); err != nil {
			return strings.TrimSpace(string(respBody)), nil
		}
		return out.Language, nil
	})
	if err != nil {
		return "", classifyError(err)
	}
	return result.(string), nil
}

func classifyError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	var httpErr *retry.HTTPError
	for e := err; e != nil; {
		if he, ok := e.(*retry.HTTPError); ok {
			httpErr = he
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if httpErr != nil && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		return entity.NewError(entity.KindUpstreamRejected, err)
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}
