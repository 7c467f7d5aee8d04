package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpipe/internal/domain/entity"
)

func TestPrometheusMetrics_RecordsOutcomes(t *testing.T) {
	m := NewPrometheusMetrics()

	m.RecordAllowed(entity.SourceKindFeed, "src-1")
	m.RecordAllowed(entity.SourceKindFeed, "src-1")
	m.RecordDenied(entity.SourceKindMicroblog, "mb-1")
	m.RecordCheckDuration(entity.SourceKindFeed, 2*time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			if metric.GetCounter() != nil {
				byName[fam.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), byName["ratelimit_admissions_total"])
	assert.Equal(t, float64(1), byName["ratelimit_denials_total"])
}

func TestPrometheusMetrics_UsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration, which they would
	// if either touched the default registerer.
	a := NewPrometheusMetrics()
	b := NewPrometheusMetrics()
	assert.NotSame(t, a.Registry(), b.Registry())

	a.RecordDenied(entity.SourceKindFeed, "s")
	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			if metric.GetCounter() != nil {
				assert.Zero(t, metric.GetCounter().GetValue(), "registries must be isolated")
			}
		}
	}
}
