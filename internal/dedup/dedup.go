// Package dedup implements deduplication & idempotency: canonical key
// derivation from a RawItem plus a short-lived seen-set that lets
// normalize short-circuit before calling the CMS collaborator.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"contentpipe/internal/domain/entity"
)

// Store is the short-lived key-value store backing Check/Mark. Redis and
// in-memory implementations both satisfy it; Redis is expected to share
// the same connection as internal/queue (see DESIGN.md).
type Store interface {
	// Check reports whether key has been seen, and if so the prior
	// content id recorded for it.
	Check(ctx context.Context, key string) (duplicate bool, priorID string, err error)
	// Mark records key -> contentID with the given ttl.
	Mark(ctx context.Context, key string, contentID string, ttl time.Duration) error
}

// DefaultTTL is the 24h default retention for dedup keys (spec.md §4.B).
const DefaultTTL = 24 * time.Hour

// trackingParams are the fixed set of query parameters stripped during
// URL canonicalization.
var trackingPrefixes = []string{"utm_"}
var trackingExact = map[string]bool{"ref": true, "source": true}

// CanonicalKey derives the idempotency/dedup key for a RawItem per
// spec.md §4.B: canonicalize the URL if present, otherwise hash
// title+published_at, otherwise fall back to a non-deduplicating random
// key.
func CanonicalKey(item entity.RawItem) string {
	if item.URL != "" {
		if key, ok := canonicalizeURL(item.URL); ok {
			return key
		}
	}
	if item.Title != "" {
		publishedAt := ""
		if item.PublishedAt != nil {
			publishedAt = item.PublishedAt.UTC().Format(time.RFC3339)
		}
		sum := sha256.Sum256([]byte(item.Title + "|" + publishedAt))
		return hex.EncodeToString(sum[:])[:32]
	}
	return randomKey()
}

// canonicalizeURL lowercases the host, strips tracking query parameters,
// and collapses a trailing slash. Idempotent: canonicalizeURL applied to
// its own output returns the same string (spec.md §8 property 5).
func canonicalizeURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if trackingExact[lower] {
			q.Del(key)
			continue
		}
		for _, prefix := range trackingPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		u.Path = ""
	}

	return u.String(), true
}

func randomKey() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return time.Now().UTC().Format(time.RFC3339Nano) + "-" + hex.EncodeToString(buf)
}

// Service wraps a Store with the Check/Mark API shape from spec.md §4.B.
type Service struct {
	store Store
	ttl   time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl}
}

func (s *Service) Check(ctx context.Context, key string) (duplicate bool, priorID string, err error) {
	return s.store.Check(ctx, key)
}

func (s *Service) Mark(ctx context.Context, key string, contentID string) error {
	return s.store.Mark(ctx, key, contentID, s.ttl)
}
