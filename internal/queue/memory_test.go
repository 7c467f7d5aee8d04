package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

func TestMemoryStore_EnqueueReserveComplete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, entity.QueueFetch, []byte("payload"), EnqueueOptions{AttemptsMax: 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	env, err := s.Reserve(ctx, entity.QueueFetch, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, id, env.JobID)
	require.Equal(t, entity.JobActive, env.State)

	require.NoError(t, s.Complete(ctx, id, []byte("ok")))

	counts, err := s.Counts(ctx, entity.QueueFetch)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Completed)
	require.Equal(t, 0, counts.Waiting)
}

func TestMemoryStore_EnqueueIdempotentByJobID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, entity.QueueNormalize, []byte("a"), EnqueueOptions{JobID: "fixed-id"})
	require.NoError(t, err)
	id2, err := s.Enqueue(ctx, entity.QueueNormalize, []byte("b"), EnqueueOptions{JobID: "fixed-id"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	counts, err := s.Counts(ctx, entity.QueueNormalize)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Waiting)
}

func TestMemoryStore_FailRetriesThenDLQ(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, entity.QueueMedia, []byte("p"), EnqueueOptions{AttemptsMax: 2, Backoff: time.Millisecond})
	require.NoError(t, err)

	_, err = s.Reserve(ctx, entity.QueueMedia, "w", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, id, "boom"))

	counts, err := s.Counts(ctx, entity.QueueMedia)
	require.NoError(t, err)
	require.Equal(t, 0, counts.Failed, "first failure should retry, not DLQ")

	time.Sleep(5 * time.Millisecond)
	_, err = s.Reserve(ctx, entity.QueueMedia, "w", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, id, "boom again"))

	counts, err = s.Counts(ctx, entity.QueueMedia)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Failed)

	dlqCounts, err := s.Counts(ctx, entity.QueueDeadLetter)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCounts.Waiting, "exhausting attempts must produce exactly one DLQ record")
}

func TestMemoryStore_ReserveRespectsPriority(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, entity.QueueMedia, []byte("low"), EnqueueOptions{Priority: 9})
	require.NoError(t, err)
	highID, err := s.Enqueue(ctx, entity.QueueMedia, []byte("high"), EnqueueOptions{Priority: 1})
	require.NoError(t, err)

	env, err := s.Reserve(ctx, entity.QueueMedia, "w", time.Minute)
	require.NoError(t, err)
	require.Equal(t, highID, env.JobID)
}

func TestMemoryStore_ReapExpiredLeases(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, entity.QueueEnrichment, []byte("p"), EnqueueOptions{})
	require.NoError(t, err)
	_, err = s.Reserve(ctx, entity.QueueEnrichment, "w", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	reaped, err := s.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	env, err := s.Reserve(ctx, entity.QueueEnrichment, "w2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, env.JobID)
	require.Equal(t, 1, env.Attempt)
}

func TestMemoryStore_ReleaseReturnsJobWithoutAttemptPenalty(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Enqueue(ctx, entity.QueueNormalize, []byte(`{}`), EnqueueOptions{})
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
