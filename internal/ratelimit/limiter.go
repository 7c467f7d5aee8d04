package ratelimit

import (
	"context"
	"time"

	"contentpipe/internal/domain/entity"
)

// KindWindow is one source kind's (max_requests, window) pair (spec.md
// §4.C table).
type KindWindow struct {
	MaxRequests int
	Window      time.Duration
}

// KindDefaults returns the per-source-kind sliding-window tuning from
// spec.md §4.C: FEED 60/min, VIDEO_CHANNEL 100/min, FORUM 60/min,
// MICROBLOG 100/hour, everything else 60/min.
func KindDefaults() map[entity.SourceKind]KindWindow {
	return map[entity.SourceKind]KindWindow{
		entity.SourceKindFeed:             {MaxRequests: 60, Window: time.Minute},
		entity.SourceKindWebsite:          {MaxRequests: 60, Window: time.Minute},
		entity.SourceKindVideoChannel:     {MaxRequests: 100, Window: time.Minute},
		entity.SourceKindPodcastFeed:      {MaxRequests: 60, Window: time.Minute},
		entity.SourceKindPodcastDiscovery: {MaxRequests: 60, Window: time.Minute},
		entity.SourceKindForum:            {MaxRequests: 60, Window: time.Minute},
		entity.SourceKindMicroblog:        {MaxRequests: 100, Window: time.Hour},
		entity.SourceKindUpload:           {MaxRequests: 60, Window: time.Minute},
	}
}

// Limiter is the per-(source_kind, source_id) admission control the
// fetch stage consults before every adapter call (spec.md §4.F: "Every
// call first consumes a rate-limit token for that kind/id"). Config
// overrides (from config.RateLimitConfig) are applied uniformly on top
// of KindDefaults when non-zero.
type Limiter struct {
	store    Store
	clock    Clock
	metrics  Metrics
	defaults map[entity.SourceKind]KindWindow
	override KindWindow
}

// NewLimiter builds a Limiter. metrics may be nil (NoOpMetrics is used).
func NewLimiter(store Store, clock Clock, metrics Metrics, override KindWindow) *Limiter {
	if clock == nil {
		clock = &SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	return &Limiter{
		store:    store,
		clock:    clock,
		metrics:  metrics,
		defaults: KindDefaults(),
		override: override,
	}
}

func (l *Limiter) window(kind entity.SourceKind) KindWindow {
	w := l.defaults[kind]
	if w.MaxRequests == 0 {
		w = KindWindow{MaxRequests: 60, Window: time.Minute}
	}
	if l.override.MaxRequests > 0 {
		w.MaxRequests = l.override.MaxRequests
	}
	if l.override.Window > 0 {
		w.Window = l.override.Window
	}
	return w
}

// Check reports whether the next call for (kind, id) would be allowed,
// without recording a hit. Used only for introspection/observability;
// the admission path (fetch stage) calls Consume directly since
// separating check-then-consume would reopen the race Store.CheckAndAdmit
// exists to close.
func (l *Limiter) Check(ctx context.Context, kind entity.SourceKind, sourceID string) (*Decision, error) {
	w := l.window(kind)
	key := SourceKey{Kind: kind, SourceID: sourceID}
	now := l.clock.Now()
	cutoff := now.Add(-w.Window)

	count, err := l.store.CountSince(ctx, key, cutoff)
	if err != nil {
		return nil, err
	}
	if count < w.MaxRequests {
		return &Decision{
			Key:        key,
			Allowed:    true,
			Limit:      w.MaxRequests,
			Remaining:  w.MaxRequests - count,
			ResetAt:    now.Add(w.Window),
			ResetAfter: w.Window,
		}, nil
	}
	return l.denied(ctx, key, w, now), nil
}

// Consume records a hit for (kind, id) only if the sliding window has
// room, atomically.
func (l *Limiter) Consume(ctx context.Context, kind entity.SourceKind, sourceID string) (*Decision, error) {
	w := l.window(kind)
	key := SourceKey{Kind: kind, SourceID: sourceID}
	now := l.clock.Now()
	cutoff := now.Add(-w.Window)

	allowed, count, err := l.store.CheckAndAdmit(ctx, key, now, cutoff, w.MaxRequests)
	l.metrics.RecordCheckDuration(kind, l.clock.Now().Sub(now))
	if err != nil {
		return nil, err
	}

	if allowed {
		l.metrics.RecordAllowed(kind, sourceID)
		return &Decision{
			Key:        key,
			Allowed:    true,
			Limit:      w.MaxRequests,
			Remaining:  w.MaxRequests - count,
			ResetAt:    now.Add(w.Window),
			ResetAfter: w.Window,
		}, nil
	}

	l.metrics.RecordDenied(kind, sourceID)
	return l.denied(ctx, key, w, now), nil
}

// denied builds a denial whose reset is governed by the oldest hit
// still inside the window: once that hit ages out, a slot frees up, so
// ResetAfter is always at most one window wide.
func (l *Limiter) denied(ctx context.Context, key SourceKey, w KindWindow, now time.Time) *Decision {
	resetAt := now.Add(w.Window)
	if oldest, ok, err := l.store.OldestSince(ctx, key, now.Add(-w.Window)); err == nil && ok {
		resetAt = oldest.Add(w.Window)
	}
	resetAfter := resetAt.Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}
	if resetAfter > w.Window {
		resetAfter = w.Window
	}
	return &Decision{
		Key:        key,
		Allowed:    false,
		Limit:      w.MaxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		ResetAfter: resetAfter,
	}
}
