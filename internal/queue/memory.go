package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/domain/entity"
)

type jobRecord struct {
	envelope entity.JobEnvelope
	priority int
	workerID string
	leaseExp time.Time
	backoff  time.Duration
	backoffCap time.Duration
}

type repeatingSchedule struct {
	queue    entity.QueueName
	payload  []byte
	every    time.Duration
	cancel   context.CancelFunc
}

// MemoryStore is a mutex-guarded in-process Store. It is the default for
// tests and a degraded-mode fallback when no Redis connection is
// configured. Dequeue picks the lowest-priority-number, earliest-due
// WAITING job — the same "lower number wins, then FIFO" fairness the
// priority-channel reference implementation achieves with three
// fixed-priority channels, generalized here to an arbitrary integer
// priority so normalize's priority-2/priority-3 fan-out (spec.md §4.G)
// doesn't need new queue machinery.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*jobRecord
	byQueue   map[entity.QueueName]map[string]struct{}
	schedules map[string]*repeatingSchedule
	completed map[entity.QueueName][]string
	failed    map[entity.QueueName][]string
	closed    bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*jobRecord),
		byQueue:   make(map[entity.QueueName]map[string]struct{}),
		schedules: make(map[string]*repeatingSchedule),
		completed: make(map[entity.QueueName][]string),
		failed:    make(map[entity.QueueName][]string),
	}
}

func (m *MemoryStore) indexAdd(queue entity.QueueName, id string) {
	set, ok := m.byQueue[queue]
	if !ok {
		set = make(map[string]struct{})
		m.byQueue[queue] = set
	}
	set[id] = struct{}{}
}

func (m *MemoryStore) Enqueue(ctx context.Context, queue entity.QueueName, payload []byte, opts EnqueueOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	} else if rec, exists := m.byID[id]; exists {
		if rec.envelope.State == entity.JobWaiting || rec.envelope.State == entity.JobDelayed || rec.envelope.State == entity.JobActive {
			return id, nil
		}
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}
	attemptsMax := opts.AttemptsMax
	if attemptsMax == 0 {
		attemptsMax = 3
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = time.Second
	}
	backoffCap := opts.BackoffCap
	if backoffCap == 0 {
		backoffCap = 5 * time.Minute
	}

	state := entity.JobWaiting
	runAt := time.Now()
	if opts.Delay > 0 {
		state = entity.JobDelayed
		runAt = runAt.Add(opts.Delay)
	}

	m.byID[id] = &jobRecord{
		envelope: entity.JobEnvelope{
			JobID:         id,
			Queue:         queue,
			Payload:       payload,
			Attempt:       0,
			MaxAttempts:   attemptsMax,
			EarliestRunAt: runAt,
			State:         state,
		},
		priority:   priority,
		backoff:    backoff,
		backoffCap: backoffCap,
	}
	m.indexAdd(queue, id)
	return id, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, queue entity.QueueName, workerID string, lease time.Duration) (*entity.JobEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var best *jobRecord
	for id := range m.byQueue[queue] {
		rec := m.byID[id]
		if rec == nil {
			continue
		}
		if rec.envelope.State != entity.JobWaiting && rec.envelope.State != entity.JobDelayed {
			continue
		}
		if rec.envelope.EarliestRunAt.After(now) {
			continue
		}
		if best == nil ||
			rec.priority < best.priority ||
			(rec.priority == best.priority && rec.envelope.EarliestRunAt.Before(best.envelope.EarliestRunAt)) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}

	best.envelope.State = entity.JobActive
	best.workerID = workerID
	best.leaseExp = now.Add(lease)

	env := best.envelope
	return &env, nil
}

func (m *MemoryStore) Complete(ctx context.Context, jobID string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	rec.envelope.State = entity.JobCompleted
	rec.envelope.Result = result
	m.completed[rec.envelope.Queue] = append(m.completed[rec.envelope.Queue], jobID)
	delete(m.byQueue[rec.envelope.Queue], jobID)
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, jobID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	rec.envelope.Attempt++
	rec.envelope.Failure = reason

	if rec.envelope.Attempt < rec.envelope.MaxAttempts {
		delay := rec.backoff * time.Duration(1<<uint(rec.envelope.Attempt-1))
		if delay > rec.backoffCap {
			delay = rec.backoffCap
		}
		rec.envelope.State = entity.JobDelayed
		rec.envelope.EarliestRunAt = time.Now().Add(delay)
		return nil
	}

	rec.envelope.State = entity.JobFailed
	m.failed[rec.envelope.Queue] = append(m.failed[rec.envelope.Queue], jobID)
	delete(m.byQueue[rec.envelope.Queue], jobID)

	dl := entity.DeadLetter{
		OriginalQueue: rec.envelope.Queue,
		OriginalJobID: jobID,
		Payload:       rec.envelope.Payload,
		FailureReason: reason,
		FailedAt:      time.Now(),
		Attempts:      rec.envelope.Attempt,
	}
	dlPayload, _ := dlMarshal(dl)
	dlID := uuid.NewString()
	m.byID[dlID] = &jobRecord{
		envelope: entity.JobEnvelope{
			JobID:         dlID,
			Queue:         entity.QueueDeadLetter,
			Payload:       dlPayload,
			MaxAttempts:   1,
			EarliestRunAt: time.Now(),
			State:         entity.JobWaiting,
		},
		priority: 5,
	}
	m.indexAdd(entity.QueueDeadLetter, dlID)
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	rec.envelope.State = entity.JobWaiting
	rec.envelope.EarliestRunAt = time.Now()
	rec.workerID = ""
	return nil
}

func (m *MemoryStore) ScheduleRepeating(ctx context.Context, name string, queue entity.QueueName, payload []byte, every time.Duration) error {
	m.mu.Lock()
	if prev, ok := m.schedules[name]; ok {
		prev.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.schedules[name] = &repeatingSchedule{queue: queue, payload: payload, every: every, cancel: cancel}
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_, _ = m.Enqueue(context.Background(), queue, payload, EnqueueOptions{})
			}
		}
	}()
	return nil
}

func (m *MemoryStore) CancelRepeating(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schedules[name]; ok {
		s.cancel()
		delete(m.schedules, name)
	}
	return nil
}

func (m *MemoryStore) Counts(ctx context.Context, queue entity.QueueName) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c Counts
	for id := range m.byQueue[queue] {
		rec := m.byID[id]
		switch rec.envelope.State {
		case entity.JobWaiting:
			c.Waiting++
		case entity.JobDelayed:
			c.Delayed++
		case entity.JobActive:
			c.Active++
		}
	}
	c.Completed = len(m.completed[queue])
	c.Failed = len(m.failed[queue])
	return c, nil
}

func (m *MemoryStore) RenewLease(ctx context.Context, jobID string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	rec.leaseExp = time.Now().Add(lease)
	return nil
}

func (m *MemoryStore) ReapExpiredLeases(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reaped := 0
	for _, rec := range m.byID {
		if rec.envelope.State == entity.JobActive && rec.leaseExp.Before(now) {
			rec.envelope.State = entity.JobWaiting
			rec.envelope.Attempt++
			rec.envelope.EarliestRunAt = now
			reaped++
		}
	}
	return reaped, nil
}

func (m *MemoryStore) GC(ctx context.Context) error {
	// MemoryStore retains completed/failed ids only as slices for
	// Counts; nothing heavyweight to reclaim beyond what a long-running
	// process would want trimmed, so GC here just caps list growth.
	m.mu.Lock()
	defer m.mu.Unlock()
	const cap = 1000
	for q, ids := range m.completed {
		if len(ids) > cap {
			m.completed[q] = ids[len(ids)-cap:]
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for _, s := range m.schedules {
		s.cancel()
	}
	m.closed = true
	return nil
}

// dlMarshal encodes dl as JSON so a reserved dead-letter envelope carries
// the full record — including the original payload, needed to re-drive
// it onto OriginalQueue — not just a human-readable summary.
func dlMarshal(dl entity.DeadLetter) ([]byte, error) {
	return json.Marshal(dl)
}
