package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

// fakeClock hands out a controllable time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(override KindWindow) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(NewMemoryStore(DefaultMemoryStoreConfig()), clock, nil, override), clock
}

func TestLimiter_ConsumeAllowsUpToLimitThenDenies(t *testing.T) {
	const limit = 5
	limiter, _ := newTestLimiter(KindWindow{MaxRequests: limit, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < limit; i++ {
		d, err := limiter.Consume(ctx, entity.SourceKindFeed, "src-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "consume %d within the budget must be allowed", i+1)
		assert.Equal(t, limit-i-1, d.Remaining)
	}

	d, err := limiter.Consume(ctx, entity.SourceKindFeed, "src-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "consume over the budget must be denied")
	assert.Equal(t, 0, d.Remaining)
	assert.LessOrEqual(t, d.ResetMs(), int64(60_000), "reset must be within one window")
	assert.Greater(t, d.ResetMs(), int64(0))
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter(KindWindow{MaxRequests: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Consume(ctx, entity.SourceKindForum, "f-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		clock.advance(10 * time.Second)
	}

	d, err := limiter.Consume(ctx, entity.SourceKindForum, "f-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Once the oldest hit ages out, a slot frees up.
	clock.advance(50 * time.Second)
	d, err = limiter.Consume(ctx, entity.SourceKindForum, "f-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_SourcesHaveIndependentBudgets(t *testing.T) {
	limiter, _ := newTestLimiter(KindWindow{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	d, err := limiter.Consume(ctx, entity.SourceKindFeed, "a")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Consume(ctx, entity.SourceKindFeed, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = limiter.Consume(ctx, entity.SourceKindFeed, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a different source's budget is untouched")
}

func TestLimiter_KindDefaultsApplyWithoutOverride(t *testing.T) {
	limiter, _ := newTestLimiter(KindWindow{})
	ctx := context.Background()

	d, err := limiter.Check(ctx, entity.SourceKindMicroblog, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 100, d.Limit, "MICROBLOG gets 100/hour per spec defaults")

	d, err = limiter.Check(ctx, entity.SourceKindVideoChannel, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 100, d.Limit)

	d, err = limiter.Check(ctx, entity.SourceKindFeed, "f-1")
	require.NoError(t, err)
	assert.Equal(t, 60, d.Limit)
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(KindWindow{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, entity.SourceKindFeed, "src-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "check must never record a hit")
		assert.Equal(t, 1, d.Remaining)
	}

	d, err := limiter.Consume(ctx, entity.SourceKindFeed, "src-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "the full budget is still available after checks")
}
