package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"contentpipe/internal/breaker"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// FeedAdapter fetches RSS/Atom/JSON feeds for FEED and PODCAST_FEED
// sources: a gofeed.Parser wired through a circuit breaker and retry
// config.
// RSS/Atom has no pagination concept, so every call returns the feed's
// current full item list with More=false.
type FeedAdapter struct {
	client   *http.Client
	breakers *breaker.Registry
}

// NewFeedAdapter builds a FeedAdapter.
func NewFeedAdapter(client *http.Client, breakers *breaker.Registry) *FeedAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedAdapter{client: client, breakers: breakers}
}

func feedURL(source entity.SourceDescriptor) (string, error) {
	switch s := source.Settings.(type) {
	case entity.FeedSettings:
		return s.URL, nil
	case entity.PodcastFeedSettings:
		return s.URL, nil
	default:
		return "", fmt.Errorf("fetch: feed adapter cannot handle settings type %T", source.Settings)
	}
}

// Fetch implements Adapter.
func (a *FeedAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	url, err := feedURL(source)
	if err != nil {
		return Result{}, err
	}

	result, err := a.breakers.Execute(ctx, breaker.DependencyFeedFetch, func(ctx context.Context) (interface{}, error) {
		var feed *gofeed.Feed
		retryErr := retry.WithBackoff(ctx, retry.FeedFetchConfig(), func() error {
			parser := gofeed.NewParser()
			parser.UserAgent = "contentpipe/1.0 (+ingestion pipeline)"
			parser.Client = a.client
			parsed, parseErr := parser.ParseURLWithContext(url, ctx)
			if parseErr != nil {
				return fmt.Errorf("parse feed: %w", parseErr)
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
	now := time.Now()
	items := make([]entity.RawItem, 0, len(feed.Items))
	errs := 0
	for _, it := range feed.Items {
		if it.Link == "" && it.Title == "" {
			errs++
			continue
		}
		items = append(items, feedItemToRaw(source.Kind, it, now))
	}

	return Result{
		Items: items,
		More:  false,
		Counts: Counts{
			Fetched: len(items),
			Errors:  errs,
		},
	}, nil
}

func feedItemToRaw(kind entity.SourceKind, it *gofeed.Item, fetchedAt time.Time) entity.RawItem {
	body := it.Content
	if body == "" {
		body = it.Description
	}

	itemURL := it.Link
	var duration int
	if kind == entity.SourceKindPodcastFeed && len(it.Enclosures) > 0 {
		itemURL = it.Enclosures[0].URL
		if it.ITunesExt != nil {
			duration = parseITunesDuration(it.ITunesExt.Duration)
		}
	}

	var author string
	if it.Author != nil {
		author = it.Author.Name
	} else if len(it.Authors) > 0 {
		author = it.Authors[0].Name
	}

	externalID := it.GUID
	if externalID == "" {
		externalID = itemURL
	}

	attrs := map[string]any{}
	if len(it.Categories) > 0 {
		attrs["categories"] = it.Categories
	}
	if kind == entity.SourceKindPodcastFeed && it.Link != "" && itemURL != it.Link {
		attrs["episode_page_url"] = it.Link
	}

	return entity.RawItem{
		ExternalID:      externalID,
		Kind:            kind,
		URL:             itemURL,
		Title:           it.Title,
		Body:            body,
		Excerpt:         it.Description,
		Author:          author,
		PublishedAt:     it.PublishedParsed,
		DurationSeconds: duration,
		Attributes:      attrs,
		FetchedAt:       fetchedAt,
	}
}

// parseITunesDuration parses an iTunes <itunes:duration> value, which
// may be plain seconds ("1800") or HH:MM:SS / MM:SS.
func parseITunesDuration(raw string) int {
	if raw == "" {
		return 0
	}
	var h, m, s int
	switch n := countColons(raw); n {
	case 0:
		fmt.Sscanf(raw, "%d", &s)
	case 1:
		fmt.Sscanf(raw, "%d:%d", &m, &s)
	default:
		fmt.Sscanf(raw, "%d:%d:%d", &h, &m, &s)
	}
	return h*3600 + m*60 + s
}

func countColons(s string) int {
	n := 0
	for _, r := range s {
		if r == ':' {
			n++
		}
	}
	return n
}

func classifyFeedError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}
