// Package normalize implements the normalize stage (spec.md §4.G):
// mapping a fetch batch's RawItems to CanonicalItems, applying source
// filters and moderation rules, deduplicating, writing each item
// through the CMS collaborator, and fanning out to the media or
// enrichment queue. Mapping dispatches over the closed SourceKind
// set, one mapper rule per kind.
package normalize

import (
	"net/url"
	"strconv"
	"strings"

	"contentpipe/internal/domain/entity"
)

const maxTitleLength = 255

// contentType maps a source kind to the canonical content type it
// produces (spec.md §4.G step 1). UPLOAD sources carry an explicit
// attributes.content_type hint set by the submitter; every other kind
// has exactly one fixed mapping.
func contentType(kind entity.SourceKind, raw entity.RawItem) entity.ContentType {
	switch kind {
	case entity.SourceKindFeed, entity.SourceKindWebsite:
		return entity.ContentTypeArticle
	case entity.SourceKindVideoChannel:
		return entity.ContentTypeVideo
	case entity.SourceKindPodcastFeed, entity.SourceKindPodcastDiscovery:
		return entity.ContentTypePodcast
	case entity.SourceKindForum:
		return entity.ContentTypeComment
	case entity.SourceKindMicroblog:
		return entity.ContentTypeTweet
	case entity.SourceKindUpload:
		if hint, ok := raw.Attributes["content_type"].(string); ok {
			switch entity.ContentType(strings.ToUpper(hint)) {
			case entity.ContentTypeArticle, entity.ContentTypeVideo, entity.ContentTypeTweet,
				entity.ContentTypeComment, entity.ContentTypePodcast:
				return entity.ContentType(strings.ToUpper(hint))
			}
		}
		return entity.ContentTypeArticle
	default:
		return entity.ContentTypeArticle
	}
}

// isMediaReady reports whether the source already supplies a playable
// artifact for a media-bearing item, meaning the media stage should be
// skipped in favor of enqueuing enrichment directly (spec.md §4.G fan-out
// table: "VIDEO, true (media_url given) -> enqueue EnrichmentJob
// directly"). An explicit attributes.media_ready from the fetcher always
// wins; otherwise PODCAST_FEED/PODCAST_DISCOVERY items default to ready,
// since their RawItem.URL is already the feed's direct enclosure link
// (see internal/fetch/feed.go), while VIDEO_CHANNEL items are a platform
// watch page that still needs downloading.
func isMediaReady(kind entity.SourceKind, ct entity.ContentType, raw entity.RawItem) bool {
	if !ct.IsMediaBearing() {
		return false
	}
	if v, ok := raw.Attributes["media_ready"].(bool); ok {
		return v
	}
	return kind == entity.SourceKindPodcastFeed || kind == entity.SourceKindPodcastDiscovery
}

// sourceName derives source_name: the item's hostname for URL-bearing
// kinds, or the raw author for account-centric kinds (forum/microblog),
// falling back to the source descriptor's display name.
func sourceName(kind entity.SourceKind, raw entity.RawItem, displayName string) string {
	if (kind == entity.SourceKindForum || kind == entity.SourceKindMicroblog) && raw.Author != "" {
		return raw.Author
	}
	if raw.URL != "" {
		if u, err := url.Parse(raw.URL); err == nil && u.Host != "" {
			return strings.ToLower(u.Host)
		}
	}
	return displayName
}

// feedURLOf extracts the source settings' feed URL, populating
// CanonicalItem.SourceFeedURL for FEED/PODCAST_FEED sources.
func feedURLOf(settings entity.SourceSettings) string {
	switch s := settings.(type) {
	case entity.FeedSettings:
		return s.URL
	case entity.PodcastFeedSettings:
		return s.URL
	default:
		return ""
	}
}

// topicTagsOf pulls an ordered sequence of short strings out of
// attributes["categories"], tolerating both []string (same-process
// value) and []interface{} (a RawItem that crossed the queue's JSON
// wire once already).
func topicTagsOf(attrs map[string]any) []string {
	raw, ok := attrs["categories"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// mapToCanonical runs spec.md §4.G step 1: map raw -> canonical via the
// kind-specific rules above, coerce the title length, and stamp
// media_ready into attributes so later stages (and the collaborator's
// metadata blob) can see the same flag the fan-out decision used.
func mapToCanonical(kind entity.SourceKind, settings entity.SourceSettings, raw entity.RawItem, displayName string) entity.CanonicalItem {
	ct := contentType(kind, raw)
	ready := isMediaReady(kind, ct, raw)

	title := raw.Title
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	attrs := make(map[string]any, len(raw.Attributes)+1)
	for k, v := range raw.Attributes {
		attrs[k] = v
	}
	attrs["media_ready"] = ready
	if raw.Engagement != nil {
		attrs["engagement_score"] = strconv.Itoa(raw.Engagement.Sum())
	}

	item := entity.CanonicalItem{
		Type:            ct,
		SourceKind:      kind,
		Status:          entity.StatusPending,
		Title:           title,
		BodyText:        raw.Body,
		Excerpt:         raw.Excerpt,
		Author:          raw.Author,
		SourceName:      sourceName(kind, raw, displayName),
		OriginalURL:     raw.URL,
		ThumbnailURL:    raw.ThumbnailURL,
		DurationSeconds: raw.DurationSeconds,
		TopicTags:       topicTagsOf(raw.Attributes),
		Attributes:      attrs,
		PublishedAt:     raw.PublishedAt,
	}
	if kind == entity.SourceKindFeed || kind == entity.SourceKindPodcastFeed {
		item.SourceFeedURL = feedURLOf(settings)
	}
	if ready {
		item.MediaURL = raw.URL
	}
	return item
}

// filterParams extracts the source filter fields (spec.md §4.G step 2)
// and the trusted flag (step 3) from the discriminated settings union;
// kinds with no such concept (podcast discovery, upload) yield zero
// values.
func filterParams(settings entity.SourceSettings) (include, exclude []string, minEngagement int, trusted bool) {
	switch s := settings.(type) {
	case entity.FeedSettings:
		return s.IncludeKeywords, s.ExcludeKeywords, s.MinEngagement, s.Trusted
	case entity.WebsiteSettings:
		return s.IncludeKeywords, s.ExcludeKeywords, 0, s.Trusted
	case entity.VideoChannelSettings:
		return s.IncludeKeywords, s.ExcludeKeywords, s.MinEngagement, s.Trusted
	case entity.PodcastFeedSettings:
		return nil, nil, 0, s.Trusted
	case entity.ForumSettings:
		return s.IncludeKeywords, s.ExcludeKeywords, s.MinEngagement, false
	case entity.MicroblogSettings:
		return nil, nil, s.MinEngagement, false
	default:
		return nil, nil, 0, false
	}
}

// combinedText is the title ∪ excerpt ∪ body text the filter and
// moderation steps both match against (spec.md §4.G steps 2-3).
func combinedText(item entity.CanonicalItem) string {
	return item.Title + " " + item.Excerpt + " " + item.BodyText
}

// matchesAny reports whether haystack contains any of keywords,
// case-insensitively (spec.md §4.G: "Matching is case-insensitive
// substring").
func matchesAny(haystack string, keywords []string) bool {
	h := strings.ToLower(haystack)
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(h, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// passesFilters applies spec.md §4.G step 2's include/exclude/
// min_engagement source filters.
func passesFilters(item entity.CanonicalItem, raw entity.RawItem, include, exclude []string, minEngagement int) bool {
	text := combinedText(item)
	if len(include) > 0 && !matchesAny(text, include) {
		return false
	}
	if matchesAny(text, exclude) {
		return false
	}
	if minEngagement > 0 {
		sum := 0
		if raw.Engagement != nil {
			sum = raw.Engagement.Sum()
		}
		if sum < minEngagement {
			return false
		}
	}
	return true
}
