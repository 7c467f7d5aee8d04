package fetch

import (
	"context"
	"fmt"
	"time"

	"contentpipe/internal/breaker"
	"contentpipe/internal/config"
	"contentpipe/internal/domain/entity"
)

// MicroblogAdapter lists recent posts from a configurable microblog
// provider API. Disabled when no API key is configured (spec.md §6).
type MicroblogAdapter struct {
	cfg    config.ProviderConfig
	client *providerClient
}

// NewMicroblogAdapter builds a MicroblogAdapter.
func NewMicroblogAdapter(cfg config.ProviderConfig, breakers *breaker.Registry) *MicroblogAdapter {
	return &MicroblogAdapter{cfg: cfg, client: newProviderClient(breakers)}
}

// Fetch implements Adapter.
func (a *MicroblogAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	if a.cfg.MicroblogAPIKey == "" {
		return Result{}, ErrAdapterDisabled
	}
	settings, ok := source.Settings.(entity.MicroblogSettings)
	if !ok {
		return Result{}, fmt.Errorf("fetch: microblog adapter cannot handle settings type %T", source.Settings)
	}
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = a.cfg.MicroblogAPIKey
	}
	baseURL := settings.APIBaseURL
	if baseURL == "" {
		baseURL = a.cfg.MicroblogBaseURL
	}

	resp, err := a.client.fetch(ctx, breaker.DependencyMicroblogAPI, baseURL, apiKey, cursor)
	if err != nil {
		return Result{}, err
	}

	items, skipped := providerItemsToRaw(entity.SourceKindMicroblog, resp.Items, time.Now())
	return Result{
		Items:      items,
		NextCursor: resp.NextCursor,
		More:       resp.More,
		Counts:     Counts{Fetched: len(items), Errors: skipped},
	}, nil
}
