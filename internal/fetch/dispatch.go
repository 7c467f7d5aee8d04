package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contentpipe/internal/domain/entity"
	"contentpipe/internal/observability/metrics"
	"contentpipe/internal/queue"
	"contentpipe/internal/ratelimit"
)

// continuationDelay is the fixed delay a paginated continuation waits
// before re-running, satisfying the "≥ 1 s" floor in spec.md §4.F.
const continuationDelay = 2 * time.Second

// normalizeRetryBaseDelay is the base backoff used for the NormalizeJob
// a fetch batch produces.
const normalizeRetryBaseDelay = 2 * time.Second

// Dispatcher routes a FetchJob to its SourceKind's Adapter (spec.md
// §4.F "Dispatch"), enforcing the rate-limit admission check ahead of
// every call and handling the adapter's post-conditions: continuation
// re-enqueue and the single NormalizeJob enqueue on non-empty output.
type Dispatcher struct {
	adapters map[entity.SourceKind]Adapter
	limiter  *ratelimit.Limiter
	queue    queue.Store
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher over the given per-kind adapter
// set. Kinds with no configured adapter (e.g. VIDEO_CHANNEL/FORUM/
// MICROBLOG with no provider API key) are simply absent from the map;
// Run treats a missing adapter the same as ErrAdapterDisabled.
func NewDispatcher(adapters map[entity.SourceKind]Adapter, limiter *ratelimit.Limiter, jobQueue queue.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{adapters: adapters, limiter: limiter, queue: jobQueue, logger: logger}
}

// Run executes one FetchJob to completion (spec.md §4.F). fetchJobID is
// the envelope id of the job being run; the NormalizeJob produced on
// non-empty output carries it as ParentFetchID. A returned error means
// the job should be retried (or dead-lettered) by the caller's queue
// reservation loop.
func (d *Dispatcher) Run(ctx context.Context, fetchJobID string, job entity.FetchJob) error {
	logger := d.logger.With(slog.String("source_id", job.SourceID), slog.String("kind", string(job.Kind)))

	decision, err := d.limiter.Consume(ctx, job.Kind, job.SourceID)
	if err != nil {
		logger.WarnContext(ctx, "rate limiter check failed, proceeding without admission control", slog.String("error", err.Error()))
	} else if !decision.Allowed {
		logger.InfoContext(ctx, "fetch denied by rate limiter, returning empty success")
		return nil
	}

	adapter, ok := d.adapters[job.Kind]
	if !ok {
		logger.InfoContext(ctx, "no adapter configured for source kind, skipping")
		return nil
	}

	source := entity.SourceDescriptor{ID: job.SourceID, Kind: job.Kind, Enabled: true, Settings: job.Settings}
	start := time.Now()
	result, err := adapter.Fetch(ctx, source, job.Cursor)
	metrics.RecordFetchBatch(string(job.Kind), time.Since(start))
	if err != nil {
		if errors.Is(err, ErrAdapterDisabled) {
			logger.InfoContext(ctx, "adapter disabled, skipping")
			return nil
		}
		metrics.RecordFetchError(string(job.Kind), string(entity.KindOf(err)))
		return fmt.Errorf("fetch %s: %w", job.Kind, err)
	}
	metrics.RecordItemsFetched(string(job.Kind), job.SourceID, result.Counts.Fetched)

	if result.More && result.NextCursor != "" {
		if err := d.enqueueContinuation(ctx, job, result.NextCursor); err != nil {
			logger.WarnContext(ctx, "failed to enqueue fetch continuation", slog.String("error", err.Error()))
		}
	}

	if len(result.Items) == 0 {
		return nil
	}
	if err := d.enqueueNormalize(ctx, fetchJobID, job, result.Items); err != nil {
		return fmt.Errorf("enqueue normalize job: %w", err)
	}
	logger.InfoContext(ctx, "fetch batch complete",
		slog.Int("fetched", result.Counts.Fetched), slog.Int("skipped", result.Counts.Skipped), slog.Int("errors", result.Counts.Errors))
	return nil
}

func (d *Dispatcher) enqueueContinuation(ctx context.Context, job entity.FetchJob, nextCursor string) error {
	next := entity.FetchJob{
		SourceID:    job.SourceID,
		Kind:        job.Kind,
		Settings:    job.Settings,
		Cursor:      nextCursor,
		TriggeredBy: job.TriggeredBy,
		TriggeredAt: time.Now(),
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal continuation fetch job: %w", err)
	}
	_, err = d.queue.Enqueue(ctx, entity.QueueFetch, payload, queue.EnqueueOptions{
		Priority:    5,
		Delay:       continuationDelay,
		AttemptsMax: 3,
		Backoff:     time.Second,
	})
	return err
}

func (d *Dispatcher) enqueueNormalize(ctx context.Context, fetchJobID string, job entity.FetchJob, items []entity.RawItem) error {
	normalizeJob := entity.NormalizeJob{
		SourceID:       job.SourceID,
		Kind:           job.Kind,
		RawItems:       items,
		SourceSettings: job.Settings,
		ParentFetchID:  fetchJobID,
	}
	payload, err := json.Marshal(normalizeJob)
	if err != nil {
		return fmt.Errorf("marshal normalize job: %w", err)
	}
	_, err = d.queue.Enqueue(ctx, entity.QueueNormalize, payload, queue.EnqueueOptions{
		Priority:    5,
		AttemptsMax: 3,
		Backoff:     normalizeRetryBaseDelay,
	})
	return err
}
