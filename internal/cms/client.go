// Package cms implements the HTTP client for the external content
// management collaborator described in spec.md §6. Every write the
// pipeline makes to the collaborator flows through Client, one method
// per table row, each wrapped by internal/breaker (dependency CMS) so a
// struggling collaborator trips the circuit instead of stalling every
// worker, and by internal/resilience/retry (CollaboratorWriteConfig, since these calls
// are idempotent at the collaborator's discretion via the idempotency
// key) for transient network failures.
package cms

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// Client talks to the collaborator's /internal/content-items and
// /internal/transcripts endpoints.
type Client struct {
	httpClient *http.Client
	breakers   *breaker.Registry
	cfg        config.CMSConfig
}

// New builds a Client with a TLS-hardened transport, modeled on
// cmd/worker/main.go's createHTTPClient.
func New(cfg config.CMSConfig, breakers *breaker.Registry) *Client {
	return &Client{
		cfg:      cfg,
		breakers: breakers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// CreateOrGetRequest is the create_or_get request body (spec.md §6): the
// collaborator dedups server-side on idempotency_key and returns the
// existing record (with its id) if one already exists.
type CreateOrGetRequest struct {
	IdempotencyKey  string         `json:"idempotency_key"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Status          string         `json:"status"`
	Title           string         `json:"title"`
	BodyText        string         `json:"body_text,omitempty"`
	Excerpt         string         `json:"excerpt,omitempty"`
	Author          string         `json:"author,omitempty"`
	SourceName      string         `json:"source_name"`
	SourceFeedURL   string         `json:"source_feed_url,omitempty"`
	OriginalURL     string         `json:"original_url"`
	PublishedAt     *time.Time     `json:"published_at,omitempty"`
	MediaURL        string         `json:"media_url,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	DurationSeconds int            `json:"duration_sec,omitempty"`
	TopicTags       []string       `json:"topic_tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// CreateOrGetResponse carries the collaborator-assigned id, its current
// status, and whether this call created a new record or returned an
// existing one.
type CreateOrGetResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// CreateOrGet maps to POST /internal/content-items.
func (c *Client) CreateOrGet(ctx context.Context, req CreateOrGetRequest) (CreateOrGetResponse, error) {
	var out CreateOrGetResponse
	err := c.doJSON(ctx, http.MethodPost, "/internal/content-items", req, &out)
	return out, err
}

// UpdateStatus maps to PATCH /internal/content-items/{id}/status.
func (c *Client) UpdateStatus(ctx context.Context, contentID string, status entity.ContentStatus, failureReason string) error {
	body := map[string]any{"status": string(status)}
	if failureReason != "" {
		body["failure_reason"] = failureReason
	}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/internal/content-items/%s/status", contentID), body, nil)
}

// ArtifactUpdate carries the media stage's output URLs (spec.md §6
// update_artifacts: media_url?, thumbnail_url?, duration_sec?).
type ArtifactUpdate struct {
	MediaURL        string `json:"media_url,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_sec,omitempty"`
}

// UpdateArtifacts maps to PATCH /internal/content-items/{id}/artifacts.
func (c *Client) UpdateArtifacts(ctx context.Context, contentID string, artifacts ArtifactUpdate) error {
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/internal/content-items/%s/artifacts", contentID), artifacts, nil)
}

// CreateTranscriptRequest is create_transcript's body (spec.md §6:
// content_item_id, full_text, summary?, word_timestamps?, language).
type CreateTranscriptRequest struct {
	ContentItemID  string           `json:"content_item_id"`
	FullText       string           `json:"full_text"`
	Summary        string           `json:"summary,omitempty"`
	WordTimestamps []TranscriptWord `json:"word_timestamps,omitempty"`
	Language       string           `json:"language,omitempty"`
}

// TranscriptWord is one entry of the transcriber's optional
// word-timestamp segments, passed through unchanged to the collaborator.
type TranscriptWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// CreateTranscriptResponse carries the collaborator-assigned transcript
// id (spec.md §6: {id, created_at}).
type CreateTranscriptResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTranscript maps to POST /internal/transcripts.
func (c *Client) CreateTranscript(ctx context.Context, req CreateTranscriptRequest) (CreateTranscriptResponse, error) {
	var out CreateTranscriptResponse
	err := c.doJSON(ctx, http.MethodPost, "/internal/transcripts", req, &out)
	return out, err
}

// LinkTranscript maps to PATCH /internal/content-items/{id}/transcript.
func (c *Client) LinkTranscript(ctx context.Context, contentID, transcriptID string) error {
	body := map[string]any{"transcript_id": transcriptID}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/internal/content-items/%s/transcript", contentID), body, nil)
}

// UpdateEmbedding maps to PATCH /internal/content-items/{id}/embedding
// (spec.md §6: {embedding, topic_tags?}).
func (c *Client) UpdateEmbedding(ctx context.Context, contentID string, vector []float32, topicTags []string) error {
	body := map[string]any{"embedding": vector}
	if len(topicTags) > 0 {
		body["topic_tags"] = topicTags
	}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/internal/content-items/%s/embedding", contentID), body, nil)
}

// Healthy probes GET /health and reports whether the collaborator is
// reachable, bypassing the breaker: a health probe must observe the
// real upstream state, not a cached open circuit.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// doJSON executes a single breaker+retry-wrapped JSON round trip. out
// may be nil when the caller doesn't need the response body decoded.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return entity.NewError(entity.KindInternalError, fmt.Errorf("marshal cms request: %w", err))
		}
	}

	result, execErr := c.breakers.Execute(ctx, breaker.DependencyCMS, func(ctx context.Context) (interface{}, error) {
		var respBody []byte
		retryErr := retry.WithBackoff(ctx, retry.CollaboratorWriteConfig(), func() error {
			responseBytes, doErr := c.do(ctx, method, path, payload)
			respBody = responseBytes
			return doErr
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return respBody, nil
	})
	if execErr != nil {
		return classifyError(execErr)
	}

	respBody, _ := result.([]byte)
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return entity.NewError(entity.KindInvalidData, fmt.Errorf("decode cms response: %w", err))
	}
	return nil
}

// do issues one HTTP request and returns the response body, wrapping
// non-2xx statuses in a retry.HTTPError so retry.IsRetryable can
// classify 429/5xx as transient.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build cms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceToken)
	req.Header.Set("X-Service-Name", c.cfg.ServiceName)
	req.Header.Set("X-Correlation-ID", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cms request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cms response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return respBody, nil
}

// classifyError maps a failed call's error into the pipeline's taxonomy.
func classifyError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	if httpErr, ok := asHTTPError(err); ok {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return entity.NewError(entity.KindRateLimited, err)
		case httpErr.StatusCode >= 500:
			return entity.NewError(entity.KindUpstreamUnavailable, err)
		case httpErr.StatusCode >= 400:
			return entity.NewError(entity.KindUpstreamRejected, err)
		}
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}

func asHTTPError(err error) (*retry.HTTPError, bool) {
	for err != nil {
		if he, ok := err.(*retry.HTTPError); ok {
			return he, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
