// Package queue implements the durable job store & queue abstraction:
// enqueue/reserve/complete/fail semantics with retry backoff and a
// dead-letter queue, plus named repeatable schedules. Two backends
// satisfy the same Store interface: RedisStore (production) and
// MemoryStore (tests, and a degraded-mode fallback for single-process
// deployments with no Redis configured).
package queue

import (
	"context"
	"errors"
	"time"

	"contentpipe/internal/domain/entity"
)

// ErrNotFound is returned by Store methods that address a job by id.
var ErrNotFound = errors.New("queue: job not found")

// EnqueueOptions controls how a job is admitted.
type EnqueueOptions struct {
	// JobID, if non-empty, makes enqueue idempotent: re-enqueueing the
	// same JobID while the job is still retained is a no-op that
	// returns the existing id.
	JobID string

	// Priority orders reservation within a queue; lower values are
	// reserved first. Defaults to 5 (normal).
	Priority int

	// Delay postpones EarliestRunAt by this duration from now.
	Delay time.Duration

	// AttemptsMax bounds retry count before a DeadLetter is emitted.
	AttemptsMax int

	// Backoff is the base delay used between retries; actual delay is
	// exponential in attempt number, capped by BackoffCap.
	Backoff    time.Duration
	BackoffCap time.Duration
}

// Counts summarizes a queue's job population by state.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Store is the job store & queue abstraction's contract (spec.md §4.A).
type Store interface {
	// Enqueue admits payload onto queue, returning the job id.
	Enqueue(ctx context.Context, queue entity.QueueName, payload []byte, opts EnqueueOptions) (jobID string, err error)

	// Reserve atomically moves the next due WAITING job on queue to
	// ACTIVE under a visibility lease, returning nil if none are due.
	Reserve(ctx context.Context, queue entity.QueueName, workerID string, lease time.Duration) (*entity.JobEnvelope, error)

	// Complete terminally transitions a reserved job to COMPLETED.
	Complete(ctx context.Context, jobID string, result []byte) error

	// Fail evaluates the retry budget: if attempts remain, the job is
	// re-queued with the next backoff delay; otherwise a DeadLetter is
	// written to the dead-letter queue.
	Fail(ctx context.Context, jobID string, reason string) error

	// Release returns a reserved (ACTIVE) job to WAITING without
	// consuming a retry attempt. Used for jobs interrupted by
	// cooperative shutdown rather than failed (spec.md §7 Cancelled:
	// "job returned to WAITING"); a released job is immediately due.
	Release(ctx context.Context, jobID string) error

	// ScheduleRepeating registers (or replaces, if name already exists)
	// a named periodic producer that enqueues payload onto queue every
	// interval.
	ScheduleRepeating(ctx context.Context, name string, queue entity.QueueName, payload []byte, every time.Duration) error

	// CancelRepeating removes a named repeating schedule.
	CancelRepeating(ctx context.Context, name string) error

	// Counts reports the current population of queue by state.
	Counts(ctx context.Context, queue entity.QueueName) (Counts, error)

	// RenewLease extends a reserved job's visibility lease; callers use
	// this as a heartbeat while a job is still legitimately in-flight.
	RenewLease(ctx context.Context, jobID string, lease time.Duration) error

	// ReapExpiredLeases returns any ACTIVE jobs whose lease has expired
	// to WAITING with an incremented attempt count. Called periodically
	// by the worker runtime's supervisor loop.
	ReapExpiredLeases(ctx context.Context) (reaped int, err error)

	// GC purges retained COMPLETED/FAILED jobs past the retention
	// policy (completed <= 1h/<=1000, failed <= 24h by default).
	GC(ctx context.Context) error

	// Close releases any underlying connections.
	Close() error
}
