package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"contentpipe/internal/breaker"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/queue"
	"contentpipe/internal/resilience/retry"
)

// PodcastDiscoveryAdapter parses a directory/OPML-like feed of podcast
// feeds and fans out a one-shot FetchJob per discovered PODCAST_FEED,
// rather than returning items itself (spec.md §4.F: "Adapters may
// themselves fan-out ... and returns zero items").
type PodcastDiscoveryAdapter struct {
	client   *http.Client
	breakers *breaker.Registry
	queue    queue.Store
}

// NewPodcastDiscoveryAdapter builds a PodcastDiscoveryAdapter.
func NewPodcastDiscoveryAdapter(client *http.Client, breakers *breaker.Registry, jobQueue queue.Store) *PodcastDiscoveryAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PodcastDiscoveryAdapter{client: client, breakers: breakers, queue: jobQueue}
}

// Fetch implements Adapter.
func (a *PodcastDiscoveryAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	settings, ok := source.Settings.(entity.PodcastDiscoverySettings)
	if !ok {
		return Result{}, fmt.Errorf("fetch: podcast discovery adapter cannot handle settings type %T", source.Settings)
	}

	result, err := a.breakers.Execute(ctx, breaker.DependencyFeedFetch, func(ctx context.Context) (interface{}, error) {
		var feed *gofeed.Feed
		retryErr := retry.WithBackoff(ctx, retry.FeedFetchConfig(), func() error {
			parser := gofeed.NewParser()
			parser.UserAgent = "contentpipe/1.0 (+ingestion pipeline)"
			parser.Client = a.client
			parsed, parseErr := parser.ParseURLWithContext(settings.DirectoryURL, ctx)
			if parseErr != nil {
				return fmt.Errorf("parse discovery feed: %w", parseErr)
			}
			feed = parsed
			return nil
		})
		return feed, retryErr
	})
	if err != nil {
		return Result{}, classifyFeedError(err)
	}

	feed := result.(*gofeed.Feed)
	fanOut := 0
	errs := 0
	for _, it := range feed.Items {
		feedURL := it.Link
		if len(it.Enclosures) > 0 {
			feedURL = it.Enclosures[0].URL
		}
		if feedURL == "" {
			errs++
			continue
		}
		if err := a.enqueueDiscovered(ctx, feedURL); err != nil {
			errs++
			continue
		}
		fanOut++
	}

	return Result{
		Items: nil,
		More:  false,
		Counts: Counts{
			Fetched: fanOut,
			Errors:  errs,
		},
	}, nil
}

func (a *PodcastDiscoveryAdapter) enqueueDiscovered(ctx context.Context, feedURL string) error {
	id := discoveredSourceID(feedURL)
	job := entity.FetchJob{
		SourceID:    id,
		Kind:        entity.SourceKindPodcastFeed,
		Settings:    entity.PodcastFeedSettings{URL: feedURL},
		TriggeredBy: entity.TriggeredBySchedule,
		TriggeredAt: time.Now(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal discovered fetch job: %w", err)
	}
	_, err = a.queue.Enqueue(ctx, entity.QueueFetch, payload, queue.EnqueueOptions{
		JobID:       "discovered-podcast:" + id,
		Priority:    5,
		AttemptsMax: 3,
		Backoff:     time.Second,
	})
	return err
}

// discoveredSourceID derives a stable id for a feed URL discovered
// through a directory, so re-running discovery against an unchanged
// directory is idempotent rather than re-enqueuing duplicates.
func discoveredSourceID(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return "podcast-" + hex.EncodeToString(sum[:])[:16]
}
