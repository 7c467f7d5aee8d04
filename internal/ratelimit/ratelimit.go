// Package ratelimit implements the pipeline's per-source sliding-window
// admission control (spec.md §4.C): every (source_kind, source_id) pair
// gets a bounded budget of fetch calls per rolling window, and the fetch
// stage consumes one admission token before each adapter call. Hit
// timestamps live in a pluggable Store whose check-and-admit is atomic,
// so concurrent workers sharing a budget never race between reading the
// count and recording the hit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"contentpipe/internal/domain/entity"
)

// SourceKey identifies one rate-limited polling subject.
type SourceKey struct {
	Kind     entity.SourceKind
	SourceID string
}

// String renders the key the way the stores index it, e.g. "FEED:src-1".
func (k SourceKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.SourceID)
}

// Store holds recorded admission timestamps per source. Implementations
// must be safe for concurrent use; MemoryStore serves a single process
// and RedisStore a fleet of workers sharing one budget.
type Store interface {
	// CheckAndAdmit atomically discards hits at or before cutoff,
	// counts what remains, and records a hit at `at` only when the
	// count is below limit. The check and the write must happen as one
	// operation; a separate read-then-write would let two concurrent
	// pollers both slip under the limit.
	CheckAndAdmit(ctx context.Context, key SourceKey, at, cutoff time.Time, limit int) (allowed bool, count int, err error)

	// CountSince reports how many recorded hits are newer than cutoff,
	// without recording anything.
	CountSince(ctx context.Context, key SourceKey, cutoff time.Time) (int, error)

	// OldestSince returns the oldest hit newer than cutoff; ok is false
	// when the window is empty. The oldest entry governs when the next
	// admission slot frees up (spec.md §4.C: "the oldest entry governs
	// the reset").
	OldestSince(ctx context.Context, key SourceKey, cutoff time.Time) (oldest time.Time, ok bool, err error)
}

// Metrics records admission outcomes. Denials are labeled by kind and
// source id (spec.md §4.C: "Denials increment a counter labeled by kind
// and id for observability").
type Metrics interface {
	RecordAllowed(kind entity.SourceKind, sourceID string)
	RecordDenied(kind entity.SourceKind, sourceID string)
	RecordCheckDuration(kind entity.SourceKind, duration time.Duration)
}

// Clock abstracts time for the Limiter so window arithmetic is testable
// with a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
