package fetch

import (
	"context"
	"fmt"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
)

// VideoChannelAdapter lists a channel's recent uploads from a
// configurable provider API. Disabled when no API key is configured
// (spec.md §6).
type VideoChannelAdapter struct {
	cfg    config.ProviderConfig
	client *providerClient
}

// NewVideoChannelAdapter builds a VideoChannelAdapter.
func NewVideoChannelAdapter(cfg config.ProviderConfig, breakers *breaker.Registry) *VideoChannelAdapter {
	return &VideoChannelAdapter{cfg: cfg, client: newProviderClient(breakers)}
}

// Fetch implements Adapter.
func (a *VideoChannelAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	if a.cfg.VideoChannelAPIKey == "" {
		return Result{}, ErrAdapterDisabled
	}
	settings, ok := source.Settings.(entity.VideoChannelSettings)
	if !ok {
		return Result{}, fmt.Errorf("fetch: video channel adapter cannot handle settings type %T", source.Settings)
	}
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = a.cfg.VideoChannelAPIKey
	}
	baseURL := a.cfg.VideoChannelBaseURL + "/channels/" + settings.ChannelID

	resp, err := a.client.fetch(ctx, breaker.DependencyVideoChannelAPI, baseURL, apiKey, cursor)
	if err != nil {
		return Result{}, err
	}

	items, skipped := providerItemsToRaw(entity.SourceKindVideoChannel, resp.Items, time.Now())
	return Result{
		Items:      items,
		NextCursor: resp.NextCursor,
		More:       resp.More,
		Counts:     Counts{Fetched: len(items), Errors: skipped},
	}, nil
}
