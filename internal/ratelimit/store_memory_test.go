package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

func feedKey(id string) SourceKey {
	return SourceKey{Kind: entity.SourceKindFeed, SourceID: id}
}

func TestMemoryStore_CheckAndAdmit_Basics(t *testing.T) {
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-time.Minute)

	for i := 0; i < 3; i++ {
		allowed, count, err := store.CheckAndAdmit(ctx, feedKey("s"), now.Add(time.Duration(i)*time.Second), cutoff, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i+1, count)
	}

	allowed, count, err := store.CheckAndAdmit(ctx, feedKey("s"), now.Add(10*time.Second), cutoff, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
}

func TestMemoryStore_CheckAndAdmit_PrunesExpiredHits(t *testing.T) {
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Fill the budget, then move the window past the hits.
	for i := 0; i < 2; i++ {
		_, _, err := store.CheckAndAdmit(ctx, feedKey("s"), base.Add(time.Duration(i)*time.Second), base.Add(-time.Minute), 2)
		require.NoError(t, err)
	}

	later := base.Add(2 * time.Minute)
	allowed, count, err := store.CheckAndAdmit(ctx, feedKey("s"), later, later.Add(-time.Minute), 2)
	require.NoError(t, err)
	assert.True(t, allowed, "expired hits must not count toward the limit")
	assert.Equal(t, 1, count)
}

func TestMemoryStore_OldestSince(t *testing.T) {
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := store.OldestSince(ctx, feedKey("s"), base.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "empty window has no governing hit")

	first := base
	second := base.Add(10 * time.Second)
	for _, at := range []time.Time{first, second} {
		_, _, err := store.CheckAndAdmit(ctx, feedKey("s"), at, base.Add(-time.Minute), 10)
		require.NoError(t, err)
	}

	oldest, ok, err := store.OldestSince(ctx, feedKey("s"), base.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, oldest.Equal(first))

	// A cutoff past the first hit makes the second one the governor.
	oldest, ok, err = store.OldestSince(ctx, feedKey("s"), first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, oldest.Equal(second))
}

func TestMemoryStore_CountSinceDoesNotMutate(t *testing.T) {
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := store.CheckAndAdmit(ctx, feedKey("s"), now, now.Add(-time.Minute), 5)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		count, err := store.CountSince(ctx, feedKey("s"), now.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestMemoryStore_EvictsIdleSourcesAtCapacity(t *testing.T) {
	store := NewMemoryStore(MemoryStoreConfig{MaxSources: 2, IdleEviction: time.Minute})
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := store.CheckAndAdmit(ctx, feedKey("stale"), base, base.Add(-time.Minute), 5)
	require.NoError(t, err)
	_, _, err = store.CheckAndAdmit(ctx, feedKey("fresh"), base.Add(2*time.Minute), base.Add(time.Minute), 5)
	require.NoError(t, err)

	// A third source arrives at the cap; the stale one is swept.
	later := base.Add(3 * time.Minute)
	allowed, _, err := store.CheckAndAdmit(ctx, feedKey("new"), later, later.Add(-time.Minute), 5)
	require.NoError(t, err)
	assert.True(t, allowed)

	count, err := store.CountSince(ctx, feedKey("stale"), base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "idle source's window is gone after the sweep")
}

func TestMemoryStore_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	const limit = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			allowed, _, err := store.CheckAndAdmit(ctx, feedKey("s"), now.Add(time.Duration(i)*time.Millisecond), now.Add(-time.Minute), limit)
			if err == nil && allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, limit, admitted, "exactly the budget is admitted under contention")
}
