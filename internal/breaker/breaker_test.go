package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

func TestRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 5, ResetTimeout: 30 * time.Millisecond, HalfOpenProbes: 3}, nil)
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		_, err := reg.Execute(context.Background(), DependencyCMS, func(context.Context) (interface{}, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}

	_, err := reg.Execute(context.Background(), DependencyCMS, func(context.Context) (interface{}, error) {
		t.Fatal("fn must not run while circuit is open")
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, entity.KindCircuitOpen, entity.KindOf(err))
	assert.ErrorIs(t, err, entity.SentinelFor(entity.KindCircuitOpen))
}

func TestRegistry_HalfOpenRecovers(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 2}, nil)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, _ = reg.Execute(context.Background(), DependencyObjectStore, func(context.Context) (interface{}, error) {
			return nil, boom
		})
	}

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err := reg.Execute(context.Background(), DependencyObjectStore, func(context.Context) (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}

	_, err := reg.Execute(context.Background(), DependencyObjectStore, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 3}, nil)
	boom := errors.New("boom")

	_, _ = reg.Execute(context.Background(), DependencyTranscriber, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	time.Sleep(20 * time.Millisecond)

	_, err := reg.Execute(context.Background(), DependencyTranscriber, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = reg.Execute(context.Background(), DependencyTranscriber, func(context.Context) (interface{}, error) {
		t.Fatal("fn must not run, breaker should have reopened")
		return nil, nil
	})
	assert.Equal(t, entity.KindCircuitOpen, entity.KindOf(err))
}

func TestRegistry_IndependentPerDependency(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenProbes: 1}, nil)
	boom := errors.New("boom")

	_, _ = reg.Execute(context.Background(), DependencyCMS, func(context.Context) (interface{}, error) {
		return nil, boom
	})

	_, err := reg.Execute(context.Background(), DependencyObjectStore, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
}
