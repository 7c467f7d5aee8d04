package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
	"contentpipe/internal/queue"
)

func feedSource(id string) entity.SourceDescriptor {
	return entity.SourceDescriptor{
		ID:          id,
		Kind:        entity.SourceKindFeed,
		DisplayName: "Example Feed",
		Endpoint:    "https://example.com/feed.xml",
		Enabled:     true,
		Settings:    entity.FeedSettings{URL: "https://example.com/feed.xml"},
	}
}

func TestRegistry_ScheduleUsesDefaultInterval(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	require.NoError(t, r.Schedule(context.Background(), feedSource("feed-1")))

	_, ok := r.Get("feed-1")
	assert.True(t, ok)
}

func TestRegistry_ScheduleRefusesDisabled(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	s := feedSource("feed-2")
	s.Enabled = false
	err := r.Schedule(context.Background(), s)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRegistry_ScheduleRefusesUpload(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	s := entity.SourceDescriptor{
		ID:       "upload-1",
		Kind:     entity.SourceKindUpload,
		Endpoint: "n/a",
		Enabled:  true,
		Settings: entity.UploadSettings{},
	}
	err := r.Schedule(context.Background(), s)
	assert.ErrorIs(t, err, ErrNeverScheduled)
}

func TestRegistry_TriggerNowEnqueuesHighPriority(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	jobID, err := r.TriggerNow(context.Background(), feedSource("feed-3"))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	counts, err := store.Counts(context.Background(), entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}

func TestRegistry_Unschedule(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	require.NoError(t, r.Schedule(context.Background(), feedSource("feed-4")))
	require.NoError(t, r.Unschedule(context.Background(), "feed-4", entity.SourceKindFeed))

	_, ok := r.Get("feed-4")
	assert.False(t, ok)
}

func TestRegistry_TriggerNowRefusesDisabled(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	r := New(store)

	s := feedSource("feed-5")
	s.Enabled = false
	_, err := r.TriggerNow(context.Background(), s)
	assert.ErrorIs(t, err, ErrDisabled)

	// give the store a moment in case a bug enqueued anyway
	time.Sleep(10 * time.Millisecond)
	counts, err := store.Counts(context.Background(), entity.QueueFetch)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Waiting)
}
