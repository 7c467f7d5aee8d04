// Package breaker holds a registry of per-dependency circuit breakers,
// one per external collaborator the pipeline depends on (spec.md §4.D).
// Each breaker wraps github.com/sony/gobreaker with ReadyToTrip counting
// consecutive failures, matching §4.D's exact state table.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"contentpipe/internal/domain/entity"
	"contentpipe/internal/observability/metrics"
)

// Dependency names the closed set of external collaborators a breaker
// protects (spec.md §4.D table).
type Dependency string

const (
	DependencyCMS             Dependency = "CMS"
	DependencyObjectStore     Dependency = "OBJECT_STORE"
	DependencyTranscriber     Dependency = "TRANSCRIBER"
	DependencyVideoChannelAPI Dependency = "VIDEO_CHANNEL_API"
	DependencyForumAPI        Dependency = "FORUM_API"
	DependencyMicroblogAPI    Dependency = "MICROBLOG_API"
	DependencyFeedFetch       Dependency = "FEED_FETCH"
	DependencyWebScraper      Dependency = "WEB_SCRAPER"
	DependencyEmbedder        Dependency = "EMBEDDER"
)

// Config tunes one breaker. Defaults match spec.md §4.D: 5 consecutive
// failures trips the breaker, 30s before a half-open probe, 3 successful
// probes closes it again.
type Config struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenProbes   uint32
}

// DefaultConfig returns spec.md §4.D's tuning.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 3}
}

// ErrCircuitOpen is returned (wrapped in an entity.PipelineError of kind
// KindCircuitOpen) when Execute fast-fails because the breaker is open
// and no probe slot is available.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// Registry lazily builds and holds one breaker per Dependency, guarded by
// singleflight so concurrent callers racing to create the same
// dependency's breaker share one instance (mirrors the "embedding model
// ownership" single-flight pattern from DESIGN.md, applied here to
// breaker construction itself).
type Registry struct {
	mu       sync.RWMutex
	breakers map[Dependency]*gobreaker.CircuitBreaker
	cfg      Config
	group    singleflight.Group
	logger   *slog.Logger
}

// NewRegistry builds a Registry; cfg is applied to every dependency
// unless overridden with WithOverride.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[Dependency]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *Registry) get(dep Dependency) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[dep]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	v, _, _ := r.group.Do(string(dep), func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cb, ok := r.breakers[dep]; ok {
			return cb, nil
		}
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(dep),
			MaxRequests: r.cfg.HalfOpenProbes,
			Interval:    0, // never reset counts while CLOSED; only ReadyToTrip matters
			Timeout:     r.cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.logger.Warn("circuit breaker state changed",
					slog.String("dependency", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
				metrics.RecordBreakerState(name, to.String())
			},
		})
		r.breakers[dep] = cb
		metrics.RecordBreakerState(string(dep), cb.State().String())
		return cb, nil
	})
	return v.(*gobreaker.CircuitBreaker)
}

// Execute runs fn through the named dependency's breaker. A rejection by
// gobreaker (open, or half-open with no probe slot) is translated into a
// KindCircuitOpen entity.PipelineError so callers can branch uniformly
// on the error taxonomy.
func (r *Registry) Execute(ctx context.Context, dep Dependency, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	cb := r.get(dep)
	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, entity.NewError(entity.KindCircuitOpen, ErrCircuitOpen)
		}
		return nil, err
	}
	return result, nil
}

// State reports the current state of dep's breaker, creating it (CLOSED)
// if it doesn't exist yet.
func (r *Registry) State(dep Dependency) gobreaker.State {
	return r.get(dep).State()
}
