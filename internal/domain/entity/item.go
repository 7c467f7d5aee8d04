package entity

import "time"

// Engagement holds source-reported interaction counts used by the
// min_engagement source filter and by normalize's moderation scoring.
type Engagement struct {
	Likes    int
	Shares   int
	Comments int
	Views    int
	Score    int
}

// Sum returns likes + shares + comments + score, the quantity
// min_engagement thresholds are compared against. Views is reported for
// observability but intentionally excluded from the sum, matching the
// source filter definition in the normalize stage design.
func (e Engagement) Sum() int {
	return e.Likes + e.Shares + e.Comments + e.Score
}

// RawItem is a fetcher's ephemeral output: it lives only for the
// duration of one normalize job.
type RawItem struct {
	ExternalID      string
	Kind            SourceKind
	URL             string
	Title           string
	Body            string
	Excerpt         string
	Author          string
	PublishedAt     *time.Time
	ThumbnailURL    string
	DurationSeconds int
	Engagement      *Engagement
	Attributes      map[string]any
	FetchedAt       time.Time
}

// ContentType is the canonical item's type, distinct from SourceKind:
// several source kinds may map to the same content type (PODCAST_FEED
// and PODCAST_DISCOVERY both yield PODCAST items).
type ContentType string

const (
	ContentTypeArticle ContentType = "ARTICLE"
	ContentTypeVideo    ContentType = "VIDEO"
	ContentTypeTweet    ContentType = "TWEET"
	ContentTypeComment  ContentType = "COMMENT"
	ContentTypePodcast  ContentType = "PODCAST"
)

// IsMediaBearing reports whether items of this type can carry a media
// artifact and therefore may require the media stage.
func (t ContentType) IsMediaBearing() bool {
	return t == ContentTypeVideo || t == ContentTypePodcast
}

// ContentStatus is the canonical item's lifecycle status. Transitions
// follow PENDING -> PROCESSING -> {READY, FAILED, ARCHIVED}; only a
// manual re-trigger may move a FAILED item out of its terminal state.
type ContentStatus string

const (
	StatusPending    ContentStatus = "PENDING"
	StatusProcessing ContentStatus = "PROCESSING"
	StatusReady      ContentStatus = "READY"
	StatusFailed     ContentStatus = "FAILED"
	StatusArchived   ContentStatus = "ARCHIVED"
)

// ModerationDecision is attached to attributes.moderation by normalize.
type ModerationDecision string

const (
	ModerationAutoApproved ModerationDecision = "AUTO_APPROVED"
	ModerationNeedsReview  ModerationDecision = "NEEDS_REVIEW"
	ModerationAutoRejected ModerationDecision = "AUTO_REJECTED"
)

// CanonicalItem is normalize's output: the record handed to the CMS
// collaborator via create_or_get, and subsequently addressed by its
// server-assigned ContentID for every later stage update.
type CanonicalItem struct {
	IdempotencyKey string
	Type           ContentType
	SourceKind     SourceKind
	Status         ContentStatus
	Title          string
	BodyText       string
	Excerpt        string
	Author         string
	SourceName     string
	SourceFeedURL  string
	MediaURL       string
	ThumbnailURL   string
	OriginalURL    string
	DurationSeconds int
	TopicTags      []string
	Attributes     map[string]any
	PublishedAt    *time.Time

	// ContentID is populated after create_or_get returns; empty until then.
	ContentID string
}

// MediaReady reports whether attributes.media_ready was set true by the
// mapper, meaning the source already supplies a playable artifact and
// the media stage should be skipped in favor of enqueuing enrichment
// directly.
func (c *CanonicalItem) MediaReady() bool {
	if c.Attributes == nil {
		return false
	}
	ready, _ := c.Attributes["media_ready"].(bool)
	return ready
}
