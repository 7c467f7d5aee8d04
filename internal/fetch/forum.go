package fetch

import (
	"context"
	"fmt"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
)

// ForumAdapter lists recent threads/posts from a configurable forum
// provider API. Disabled when no API key is configured (spec.md §6).
type ForumAdapter struct {
	cfg    config.ProviderConfig
	client *providerClient
}

// NewForumAdapter builds a ForumAdapter.
func NewForumAdapter(cfg config.ProviderConfig, breakers *breaker.Registry) *ForumAdapter {
	return &ForumAdapter{cfg: cfg, client: newProviderClient(breakers)}
}

// Fetch implements Adapter.
func (a *ForumAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	if a.cfg.ForumAPIKey == "" {
		return Result{}, ErrAdapterDisabled
	}
	settings, ok := source.Settings.(entity.ForumSettings)
	if !ok {
		return Result{}, fmt.Errorf("fetch: forum adapter cannot handle settings type %T", source.Settings)
	}
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = a.cfg.ForumAPIKey
	}
	baseURL := settings.APIBaseURL
	if baseURL == "" {
		baseURL = a.cfg.ForumBaseURL
	}

	resp, err := a.client.fetch(ctx, breaker.DependencyForumAPI, baseURL, apiKey, cursor)
	if err != nil {
		return Result{}, err
	}

	items, skipped := providerItemsToRaw(entity.SourceKindForum, resp.Items, time.Now())
	return Result{
		Items:      items,
		NextCursor: resp.NextCursor,
		More:       resp.More,
		Counts:     Counts{Fetched: len(items), Errors: skipped},
	}, nil
}
