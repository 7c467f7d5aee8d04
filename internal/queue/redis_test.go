package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, "test:queue:")
}

func TestRedisStore_EnqueueReserveComplete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, entity.QueueFetch, []byte(`{"a":1}`), EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	env, err := store.Reserve(ctx, entity.QueueFetch, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, id, env.JobID)
	assert.Equal(t, entity.QueueFetch, env.Queue)
	assert.Equal(t, []byte(`{"a":1}`), env.Payload)
	assert.Equal(t, entity.JobActive, env.State)

	require.NoError(t, store.Complete(ctx, env.JobID, nil))

	counts, err := store.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)
}

func TestRedisStore_ReserveHonorsPriority(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	lowID, err := store.Enqueue(ctx, entity.QueueMedia, []byte(`low`), EnqueueOptions{Priority: 5})
	require.NoError(t, err)
	highID, err := store.Enqueue(ctx, entity.QueueMedia, []byte(`high`), EnqueueOptions{Priority: 2})
	require.NoError(t, err)

	first, err := store.Reserve(ctx, entity.QueueMedia, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highID, first.JobID)

	second, err := store.Reserve(ctx, entity.QueueMedia, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, lowID, second.JobID)
}

func TestRedisStore_DelayedJobNotDueUntilDelayElapses(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, entity.QueueFetch, []byte(`delayed`), EnqueueOptions{Delay: 60 * time.Millisecond})
	require.NoError(t, err)

	env, err := store.Reserve(ctx, entity.QueueFetch, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, env, "delayed job must not be reservable before its delay elapses")

	counts, err := store.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Delayed)

	time.Sleep(80 * time.Millisecond)

	env, err = store.Reserve(ctx, entity.QueueFetch, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, []byte(`delayed`), env.Payload)
}

func TestRedisStore_EnqueueWithJobIDIsIdempotent(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, entity.QueueEnrichment, []byte(`{}`), EnqueueOptions{JobID: "enrichment:c1"})
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, entity.QueueEnrichment, []byte(`{}`), EnqueueOptions{JobID: "enrichment:c1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	counts, err := store.Counts(ctx, entity.QueueEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}

func TestRedisStore_FailRetriesWithBackoffThenDeadLetters(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	payload := []byte(`{"content_id":"c9"}`)
	_, err := store.Enqueue(ctx, entity.QueueMedia, payload, EnqueueOptions{
		AttemptsMax: 2,
		Backoff:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	env, err := store.Reserve(ctx, entity.QueueMedia, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, store.Fail(ctx, env.JobID, "boom"))

	counts, err := store.Counts(ctx, entity.QueueMedia)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Delayed, "retried job waits out its backoff in the delayed set")

	time.Sleep(30 * time.Millisecond)

	env, err = store.Reserve(ctx, entity.QueueMedia, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 1, env.Attempt)

	require.NoError(t, store.Fail(ctx, env.JobID, "boom again"))

	counts, err = store.Counts(ctx, entity.QueueMedia)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Failed)

	dlEnv, err := store.Reserve(ctx, entity.QueueDeadLetter, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, dlEnv)
	assert.Equal(t, entity.QueueDeadLetter, dlEnv.Queue)

	var dl entity.DeadLetter
	require.NoError(t, json.Unmarshal(dlEnv.Payload, &dl))
	assert.Equal(t, entity.QueueMedia, dl.OriginalQueue)
	assert.Equal(t, env.JobID, dl.OriginalJobID)
	assert.Equal(t, payload, dl.Payload)
	assert.Equal(t, "boom again", dl.FailureReason)
	assert.Equal(t, 2, dl.Attempts)
}

func TestRedisStore_ReapExpiredLeases(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, entity.QueueNormalize, []byte(`{}`), EnqueueOptions{})
	require.NoError(t, err)

	env, err := store.Reserve(ctx, entity.QueueNormalize, "w1", -time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	reaped, err := store.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	env, err = store.Reserve(ctx, entity.QueueNormalize, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 1, env.Attempt, "reaped job comes back with an incremented attempt")
}

func TestRedisStore_RenewLeasePreventsReap(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, entity.QueueNormalize, []byte(`{}`), EnqueueOptions{})
	require.NoError(t, err)

	env, err := store.Reserve(ctx, entity.QueueNormalize, "w1", -time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, store.RenewLease(ctx, env.JobID, time.Minute))

	reaped, err := store.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)
}

func TestRedisStore_RepeatingScheduleFiresAndCancels(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	payload := []byte(`{"source_id":"s1"}`)
	require.NoError(t, store.ScheduleRepeating(ctx, "source:s1", entity.QueueFetch, payload, 20*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	store.fireDueSchedules(ctx)

	counts, err := store.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)

	// Not yet due again right after firing.
	store.fireDueSchedules(ctx)
	counts, err = store.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)

	require.NoError(t, store.CancelRepeating(ctx, "source:s1"))
	time.Sleep(30 * time.Millisecond)
	store.fireDueSchedules(ctx)

	counts, err = store.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting, "cancelled schedule must not fire again")
}

func TestRedisStore_ReleaseReturnsJobWithoutAttemptPenalty(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, entity.QueueNormalize, []byte(`{}`), EnqueueOptions{Priority: 2})
	require.NoError(t, err)

	env, err := store.Reserve(ctx, entity.QueueNormalize, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, store.Release(ctx, env.JobID))

	counts, err := store.Counts(ctx, entity.QueueNormalize)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
	assert.Equal(t, 0, counts.Active)

	again, err := store.Reserve(ctx, entity.QueueNormalize, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, env.JobID, again.JobID)
	assert.Equal(t, 0, again.Attempt, "release must not consume a retry attempt")
}
