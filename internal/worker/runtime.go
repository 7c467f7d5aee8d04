// Package worker hosts the worker runtime (spec.md §4.J): one bounded
// concurrent pool per queue, each reserving jobs from internal/queue,
// dispatching the decoded payload to a stage's Run method, and
// completing/failing the envelope depending on the outcome. A single
// supervisor goroutine reaps expired visibility leases and
// garbage-collects retained jobs on their own cadence.
//
// Each pool is a fixed set of goroutines polling its queue, so the
// per-queue concurrency cap needs no extra semaphore machinery.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"contentpipe/internal/domain/entity"
	"contentpipe/internal/observability/metrics"
	"contentpipe/internal/observability/slo"
	"contentpipe/internal/observability/tracing"
	"contentpipe/internal/queue"
)

// Handler processes one reserved job envelope. Implementations are
// thin adapters over a stage's typed Run method: unmarshal the
// envelope's payload, call Run, return its error unchanged so the
// runtime can route it to Complete or Fail.
type Handler func(ctx context.Context, env *entity.JobEnvelope) error

// QueuePool binds one queue to the handler and concurrency that drive
// it (spec.md §5: fetch/normalize 5, media 2, enrichment 3 by default).
type QueuePool struct {
	Queue       entity.QueueName
	Concurrency int
	Handler     Handler
}

// Config tunes the runtime's visibility lease, reap/GC cadence, and
// shutdown grace period (spec.md §4.A, §4.J, §5).
type Config struct {
	// VisibilityLease is how long a Reserve grants a worker exclusive
	// ownership of a job before ReapExpiredLeases considers it stalled.
	VisibilityLease time.Duration

	// ReapInterval and GCInterval are the supervisor loop's cadences.
	ReapInterval time.Duration
	GCInterval   time.Duration

	// ShutdownGracePeriod is how long Shutdown waits for in-flight jobs
	// to finish naturally before force-cancelling them.
	ShutdownGracePeriod time.Duration

	// PollInterval is how often an idle pool worker retries Reserve
	// after finding no due job. Defaults to 500ms.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.VisibilityLease <= 0 {
		c.VisibilityLease = 5 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 5 * time.Minute
	}
	if c.ShutdownGracePeriod <= 0 {
		c.ShutdownGracePeriod = 30 * time.Second
	}
	return c
}

// Runtime hosts every registered queue pool plus the supervisor loop
// (spec.md §4.J: "Hosts A-D/F-I, concurrency, cancellation, shutdown").
type Runtime struct {
	store  queue.Store
	cfg    Config
	logger *slog.Logger
	pools  []QueuePool

	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
	runCancel context.CancelFunc
}

// New builds a Runtime over store. Register queue pools with Register
// before calling Start.
func New(store queue.Store, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Register adds a queue pool to the runtime. Call before Start; pools
// registered after Start has run are never started.
func (r *Runtime) Register(pool QueuePool) {
	if pool.Concurrency <= 0 {
		pool.Concurrency = 1
	}
	r.pools = append(r.pools, pool)
}

// Start launches every registered pool's worker goroutines plus the
// supervisor loop and returns immediately. Workers keep running until
// ctx is cancelled or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.runCancel = cancel

	instanceID := uuid.NewString()
	for _, pool := range r.pools {
		for i := 0; i < pool.Concurrency; i++ {
			workerID := fmt.Sprintf("%s-%s-%d", instanceID, pool.Queue, i)
			r.wg.Add(1)
			go r.runPoolWorker(runCtx, pool, workerID)
		}
	}

	r.wg.Add(1)
	go r.runSupervisor(runCtx)

	r.logger.Info("worker runtime started",
		slog.Int("pools", len(r.pools)),
		slog.String("instance_id", instanceID))
}

// Shutdown implements the cooperative shutdown protocol (spec.md §4.J):
// stop reserving new jobs, wait for in-flight jobs up to the grace
// period, then force-cancel remaining work and return once everything
// has unwound.
func (r *Runtime) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker runtime stopped cleanly")
		return
	case <-time.After(r.cfg.ShutdownGracePeriod):
		r.logger.Warn("shutdown grace period exceeded, force-cancelling in-flight work")
	}

	if r.runCancel != nil {
		r.runCancel()
	}
	<-done
	r.logger.Info("worker runtime stopped after forced cancellation")
}

func (r *Runtime) runPoolWorker(ctx context.Context, pool QueuePool, workerID string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.reserveAndProcess(ctx, pool, workerID)
		}
	}
}

func (r *Runtime) reserveAndProcess(ctx context.Context, pool QueuePool, workerID string) {
	env, err := r.store.Reserve(ctx, pool.Queue, workerID, r.cfg.VisibilityLease)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.ErrorContext(ctx, "reserve failed",
			slog.String("queue", string(pool.Queue)), slog.String("error", err.Error()))
		return
	}
	if env == nil {
		return
	}
	r.processJob(ctx, pool, env, workerID)
}

// processJob runs one job to completion, renewing its visibility lease
// on a heartbeat while the handler is in flight (spec.md §4.A:
// "Visibility leases are renewed while the worker heartbeat is
// current").
func (r *Runtime) processJob(ctx context.Context, pool QueuePool, env *entity.JobEnvelope, workerID string) {
	logger := r.logger.With(
		slog.String("queue", string(pool.Queue)),
		slog.String("job_id", env.JobID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", env.Attempt))

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCtx, span := tracing.GetTracer().Start(jobCtx, "job."+string(pool.Queue))
	span.SetAttributes(
		attribute.String("job.id", env.JobID),
		attribute.String("job.queue", string(pool.Queue)),
		attribute.Int("job.attempt", env.Attempt),
	)
	defer span.End()

	heartbeatDone := make(chan struct{})
	go r.heartbeat(jobCtx, env.JobID, heartbeatDone)
	defer close(heartbeatDone)

	start := time.Now()
	err := pool.Handler(jobCtx, env)
	duration := time.Since(start)

	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
	}

	// A cancelled job was interrupted, not failed: return it to WAITING
	// with its attempt budget untouched (spec.md §7 Cancelled, §5 "any
	// job that cannot finish within the grace period is returned to
	// WAITING") and keep it out of the completion/failure metrics.
	if err != nil && (entity.KindOf(err) == entity.KindCancelled || jobCtx.Err() != nil) {
		logger.InfoContext(ctx, "job cancelled, releasing back to queue", slog.Duration("duration", duration))
		if relErr := r.store.Release(context.Background(), env.JobID); relErr != nil {
			logger.ErrorContext(ctx, "failed to release cancelled job", slog.String("error", relErr.Error()))
		}
		return
	}

	metrics.RecordJobOutcome(string(pool.Queue), duration, err)

	if err != nil {
		reason := err.Error()
		logger.ErrorContext(ctx, "job handler failed",
			slog.String("error", reason), slog.Duration("duration", duration))
		if failErr := r.store.Fail(context.Background(), env.JobID, reason); failErr != nil {
			logger.ErrorContext(ctx, "failed to record job failure", slog.String("error", failErr.Error()))
		}
		return
	}

	if completeErr := r.store.Complete(context.Background(), env.JobID, nil); completeErr != nil {
		logger.ErrorContext(ctx, "failed to record job completion", slog.String("error", completeErr.Error()))
		return
	}
	logger.InfoContext(ctx, "job completed", slog.Duration("duration", duration))
}

// heartbeat periodically renews jobID's visibility lease until done is
// closed or ctx is cancelled. A failed renewal is logged but not fatal:
// the worst case is the lease eventually expiring and
// ReapExpiredLeases reclaiming the job for a retry.
func (r *Runtime) heartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	interval := r.cfg.VisibilityLease / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.RenewLease(context.Background(), jobID, r.cfg.VisibilityLease); err != nil {
				r.logger.Warn("lease renewal failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) runSupervisor(ctx context.Context) {
	defer r.wg.Done()

	reapTicker := time.NewTicker(r.cfg.ReapInterval)
	gcTicker := time.NewTicker(r.cfg.GCInterval)
	defer reapTicker.Stop()
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-reapTicker.C:
			n, err := r.store.ReapExpiredLeases(ctx)
			if err != nil {
				r.logger.Error("reap expired leases failed", slog.String("error", err.Error()))
			} else if n > 0 {
				r.logger.Info("reaped expired leases", slog.Int("count", n))
			}
		case <-gcTicker.C:
			if err := r.store.GC(ctx); err != nil {
				r.logger.Error("queue GC failed", slog.String("error", err.Error()))
			}
			r.recordQueueDepths(ctx)
		}
	}
}

// recordQueueDepths refreshes the queue-depth gauge for every registered
// pool's queue, one Counts call each, and rolls the same snapshot into
// the availability SLO gauge. Run on the same cadence as GC since both
// are "periodic housekeeping, not per-job work".
func (r *Runtime) recordQueueDepths(ctx context.Context) {
	var totalCompleted, totalFailed int

	for _, pool := range r.pools {
		counts, err := r.store.Counts(ctx, pool.Queue)
		if err != nil {
			r.logger.Warn("queue counts failed", slog.String("queue", string(pool.Queue)), slog.String("error", err.Error()))
			continue
		}
		metrics.SetQueueDepth(string(pool.Queue), "waiting", counts.Waiting)
		metrics.SetQueueDepth(string(pool.Queue), "active", counts.Active)
		metrics.SetQueueDepth(string(pool.Queue), "delayed", counts.Delayed)
		metrics.SetQueueDepth(string(pool.Queue), "completed", counts.Completed)
		metrics.SetQueueDepth(string(pool.Queue), "failed", counts.Failed)
		totalCompleted += counts.Completed
		totalFailed += counts.Failed
	}

	if total := totalCompleted + totalFailed; total > 0 {
		slo.UpdateAvailability(float64(totalCompleted) / float64(total))
		slo.UpdateErrorRate(float64(totalFailed) / float64(total))
	}
}
