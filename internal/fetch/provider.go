package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// providerItem is the wire shape every VIDEO_CHANNEL/FORUM/MICROBLOG
// provider API is expected to return one of, per item. Real providers
// differ in field names upstream of this package; a thin
// provider-specific translation layer would live here if more than one
// third-party API shape needed support, but spec.md §6 describes these
// as configurable generic HTTP+JSON collaborators sharing one contract.
type providerItem struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Title           string         `json:"title"`
	Body            string         `json:"body"`
	Excerpt         string         `json:"excerpt"`
	Author          string         `json:"author"`
	PublishedAt     *time.Time     `json:"published_at"`
	ThumbnailURL    string         `json:"thumbnail_url"`
	DurationSeconds int            `json:"duration_seconds"`
	Likes           int            `json:"likes"`
	Shares          int            `json:"shares"`
	Comments        int            `json:"comments"`
	Views           int            `json:"views"`
	Score           int            `json:"score"`
	Attributes      map[string]any `json:"attributes"`
}

type providerResponse struct {
	Items      []providerItem `json:"items"`
	NextCursor string         `json:"next_cursor"`
	More       bool           `json:"more"`
}

// providerClient performs the shared "GET {baseURL}/items?cursor=" call
// every provider-key-gated adapter makes, wrapped by the caller's
// breaker dependency and a moderate retry policy.
type providerClient struct {
	httpClient *http.Client
	breakers   *breaker.Registry
}

func newProviderClient(breakers *breaker.Registry) *providerClient {
	return &providerClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		breakers:   breakers,
	}
}

func (c *providerClient) fetch(ctx context.Context, dep breaker.Dependency, baseURL, apiKey, cursor string) (providerResponse, error) {
	result, err := c.breakers.Execute(ctx, dep, func(ctx context.Context) (interface{}, error) {
		var out providerResponse
		retryErr := retry.WithBackoff(ctx, retry.WebScraperConfig(), func() error {
			decoded, fetchErr := c.doFetch(ctx, baseURL, apiKey, cursor)
			if fetchErr != nil {
				return fetchErr
			}
			out = decoded
			return nil
		})
		return out, retryErr
	})
	if err != nil {
		return providerResponse{}, classifyProviderError(err)
	}
	return result.(providerResponse), nil
}

func (c *providerClient) doFetch(ctx context.Context, baseURL, apiKey, cursor string) (providerResponse, error) {
	url := baseURL + "/items"
	if cursor != "" {
		url += "?cursor=" + cursor
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return providerResponse{}, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providerResponse{}, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return providerResponse{}, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return providerResponse{}, entity.NewError(entity.KindInvalidData, fmt.Errorf("decode provider response: %w", err))
	}
	return out, nil
}

func providerItemsToRaw(kind entity.SourceKind, items []providerItem, fetchedAt time.Time) ([]entity.RawItem, int) {
	out := make([]entity.RawItem, 0, len(items))
	skipped := 0
	for _, it := range items {
		if it.URL == "" && it.Title == "" {
			skipped++
			continue
		}
		out = append(out, entity.RawItem{
			ExternalID:   it.ID,
			Kind:         kind,
			URL:          it.URL,
			Title:        it.Title,
			Body:         it.Body,
			Excerpt:      it.Excerpt,
			Author:       it.Author,
			PublishedAt:  it.PublishedAt,
			ThumbnailURL: it.ThumbnailURL,
			DurationSeconds: it.DurationSeconds,
			Engagement: &entity.Engagement{
				Likes:    it.Likes,
				Shares:   it.Shares,
				Comments: it.Comments,
				Views:    it.Views,
				Score:    it.Score,
			},
			Attributes: it.Attributes,
			FetchedAt:  fetchedAt,
		})
	}
	return out, skipped
}

func classifyProviderError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}
