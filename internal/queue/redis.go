package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"contentpipe/internal/domain/entity"
)

// schedulerTick is how often the repeating-schedule loop looks for due
// entries. Schedules are minutes-to-hours apart (spec.md §4.E), so a
// coarse tick is plenty.
const schedulerTick = 5 * time.Second

// RedisStore is the production Store backend. Each queue keeps two
// sorted sets: a delayed set scored by earliest_run_at (millis) and a
// wait set scored by priority-then-FIFO, plus an active set scored by
// lease expiry that doubles as the reap index. Job bodies are stored
// under per-id keys; per-id priority lives in one hash so the reserve
// script can promote due delayed jobs into the wait set without parsing
// JSON. Reservation is a single Lua script — promote due jobs, pop the
// best waiting one, move it to active — so the "is it due" check and
// the "take ownership" write happen as one atomic op, the same
// single-round-trip discipline internal/ratelimit's Store.CheckAndAdmit
// applies to admission counting, here applied to job reservation.
type RedisStore struct {
	rdb    *redis.Client
	prefix string

	schedOnce sync.Once
	schedStop chan struct{}
}

// NewRedisStore wraps an existing *redis.Client. prefix namespaces all
// keys (e.g. "contentpipe:queue:").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "contentpipe:queue:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, schedStop: make(chan struct{})}
}

func (r *RedisStore) waitKey(q entity.QueueName) string    { return r.prefix + string(q) + ":wait" }
func (r *RedisStore) delayedKey(q entity.QueueName) string { return r.prefix + string(q) + ":delayed" }
func (r *RedisStore) activeKey(q entity.QueueName) string  { return r.prefix + string(q) + ":active" }
func (r *RedisStore) jobKey(id string) string              { return r.prefix + "job:" + id }
func (r *RedisStore) prioKey() string                      { return r.prefix + "prio" }
func (r *RedisStore) seqKey() string                       { return r.prefix + "seq" }
func (r *RedisStore) completedKey(q entity.QueueName) string {
	return r.prefix + string(q) + ":completed"
}
func (r *RedisStore) failedKey(q entity.QueueName) string { return r.prefix + string(q) + ":failed" }
func (r *RedisStore) scheduleKey(name string) string      { return r.prefix + "schedule:" + name }
func (r *RedisStore) scheduleIndexKey() string            { return r.prefix + "schedules" }

type jobData struct {
	Queue       entity.QueueName `json:"queue"`
	Payload     []byte           `json:"payload"`
	Attempt     int              `json:"attempt"`
	MaxAttempts int              `json:"max_attempts"`
	Backoff     time.Duration    `json:"backoff"`
	BackoffCap  time.Duration    `json:"backoff_cap"`
	Failure     string           `json:"failure,omitempty"`
	Result      []byte           `json:"result,omitempty"`
}

// waitScore orders the wait set: the priority band dominates (lower
// number first), the enqueue sequence breaks ties FIFO within a band.
func waitScore(priority int, seq int64) float64 {
	return float64(priority)*1e12 + float64(seq)
}

func (r *RedisStore) nextSeq(ctx context.Context) (int64, error) {
	return r.rdb.Incr(ctx, r.seqKey()).Result()
}

func (r *RedisStore) Enqueue(ctx context.Context, queue entity.QueueName, payload []byte, opts EnqueueOptions) (string, error) {
	id := opts.JobID
	if id != "" {
		exists, err := r.rdb.Exists(ctx, r.jobKey(id)).Result()
		if err != nil {
			return "", fmt.Errorf("queue: enqueue exists check: %w", err)
		}
		if exists == 1 {
			return id, nil
		}
	} else {
		id = uuid.NewString()
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

	data := jobData{Queue: queue, Payload: payload, MaxAttempts: attemptsMax, Backoff: backoff, BackoffCap: backoffCap}
	buf, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.jobKey(id), buf, 0)
	pipe.HSet(ctx, r.prioKey(), id, priority)
	if opts.Delay > 0 {
		runAt := time.Now().Add(opts.Delay)
		pipe.ZAdd(ctx, r.delayedKey(queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	} else {
		seq, seqErr := r.nextSeq(ctx)
		if seqErr != nil {
			return "", fmt.Errorf("queue: enqueue seq: %w", seqErr)
		}
		pipe.ZAdd(ctx, r.waitKey(queue), redis.Z{Score: waitScore(priority, seq), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// reserveScript promotes due delayed jobs into the wait set, then pops
// the best waiting job and moves it to the active set under its lease.
var reserveScript = redis.NewScript(`
local wait = KEYS[1]
local delayed = KEYS[2]
local active = KEYS[3]
local prio = KEYS[4]
local seq = KEYS[5]
local nowms = tonumber(ARGV[1])
local leasescore = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', nowms, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', delayed, id)
  local p = tonumber(redis.call('HGET', prio, id)) or 5
  local s = redis.call('INCR', seq)
  redis.call('ZADD', wait, p * 1e12 + s, id)
end

local members = redis.call('ZRANGE', wait, 0, 0)
if #members == 0 then
  return nil
end
local id = members[1]
redis.call('ZREM', wait, id)
redis.call('ZADD', active, leasescore, id)
return id
`)

func (r *RedisStore) Reserve(ctx context.Context, queue entity.QueueName, workerID string, lease time.Duration) (*entity.JobEnvelope, error) {
	now := time.Now()
	res, err := reserveScript.Run(ctx, r.rdb,
		[]string{r.waitKey(queue), r.delayedKey(queue), r.activeKey(queue), r.prioKey(), r.seqKey()},
		now.UnixMilli(), float64(now.Add(lease).Unix())).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	id, _ := res.(string)
	if id == "" {
		return nil, nil
	}

	data, err := r.loadJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("queue: reserve load: %w", err)
	}

	return &entity.JobEnvelope{
		JobID:         id,
		Queue:         data.Queue,
		Payload:       data.Payload,
		Attempt:       data.Attempt,
		MaxAttempts:   data.MaxAttempts,
		EarliestRunAt: now,
		State:         entity.JobActive,
	}, nil
}

func (r *RedisStore) loadJob(ctx context.Context, jobID string) (*jobData, error) {
	raw, err := r.rdb.Get(ctx, r.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var data jobData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (r *RedisStore) Complete(ctx context.Context, jobID string, result []byte) error {
	data, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	data.Result = result
	buf, _ := json.Marshal(data)

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.jobKey(jobID), buf, time.Hour)
	pipe.ZRem(ctx, r.activeKey(data.Queue), jobID)
	pipe.HDel(ctx, r.prioKey(), jobID)
	pipe.ZAdd(ctx, r.completedKey(data.Queue), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Fail(ctx context.Context, jobID string, reason string) error {
	data, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	data.Attempt++
	data.Failure = reason

	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, r.activeKey(data.Queue), jobID)

	if data.Attempt < data.MaxAttempts {
		backoff := data.Backoff
		if backoff == 0 {
			backoff = time.Second
		}
		delay := backoff * time.Duration(1<<uint(data.Attempt-1))
		if data.BackoffCap > 0 && delay > data.BackoffCap {
			delay = data.BackoffCap
		}
		buf, _ := json.Marshal(data)
		pipe.Set(ctx, r.jobKey(jobID), buf, 0)
		pipe.ZAdd(ctx, r.delayedKey(data.Queue), redis.Z{
			Score: float64(time.Now().Add(delay).UnixMilli()), Member: jobID,
		})
		_, err = pipe.Exec(ctx)
		return err
	}

	buf, _ := json.Marshal(data)
	pipe.Set(ctx, r.jobKey(jobID), buf, 24*time.Hour)
	pipe.HDel(ctx, r.prioKey(), jobID)
	pipe.ZAdd(ctx, r.failedKey(data.Queue), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})

	dl := entity.DeadLetter{
		OriginalQueue: data.Queue,
		OriginalJobID: jobID,
		Payload:       data.Payload,
		FailureReason: reason,
		FailedAt:      time.Now(),
		Attempts:      data.Attempt,
	}
	dlPayload, _ := json.Marshal(dl)
	// Wrapped in a jobData envelope, same as any other queue's entry, so
	// Reserve(ctx, entity.QueueDeadLetter, ...) decodes a correct Queue
	// and Payload instead of the raw DeadLetter fields happening to
	// partially line up with jobData's.
	dlRecord := jobData{Queue: entity.QueueDeadLetter, Payload: dlPayload, MaxAttempts: 1}
	dlBuf, _ := json.Marshal(dlRecord)
	dlID := uuid.NewString()
	seq, seqErr := r.nextSeq(ctx)
	if seqErr != nil {
		return fmt.Errorf("queue: dead-letter seq: %w", seqErr)
	}
	pipe.Set(ctx, r.jobKey(dlID), dlBuf, 0)
	pipe.HSet(ctx, r.prioKey(), dlID, 5)
	pipe.ZAdd(ctx, r.waitKey(entity.QueueDeadLetter), redis.Z{Score: waitScore(5, seq), Member: dlID})

	_, err = pipe.Exec(ctx)
	return err
}

// Release moves a reserved job straight back to its queue's wait set,
// keeping its stored attempt count and priority intact.
func (r *RedisStore) Release(ctx context.Context, jobID string) error {
	data, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	priority, err := r.rdb.HGet(ctx, r.prioKey(), jobID).Int()
	if err != nil {
		priority = 5
	}
	seq, err := r.nextSeq(ctx)
	if err != nil {
		return fmt.Errorf("queue: release seq: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, r.activeKey(data.Queue), jobID)
	pipe.ZAdd(ctx, r.waitKey(data.Queue), redis.Z{Score: waitScore(priority, seq), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

type scheduleEntry struct {
	Queue   entity.QueueName `json:"queue"`
	Payload []byte           `json:"payload"`
	Every   time.Duration    `json:"every"`
}

// claimScheduleScript advances a due schedule's next-run atomically so
// that with multiple worker replicas sharing one Redis, exactly one of
// them fires each tick.
var claimScheduleScript = redis.NewScript(`
local index = KEYS[1]
local name = ARGV[1]
local nowms = tonumber(ARGV[2])
local nextms = tonumber(ARGV[3])
local due = redis.call('ZSCORE', index, name)
if due and tonumber(due) <= nowms then
  redis.call('ZADD', index, nextms, name)
  return 1
end
return 0
`)

func (r *RedisStore) ScheduleRepeating(ctx context.Context, name string, queue entity.QueueName, payload []byte, every time.Duration) error {
	buf, _ := json.Marshal(scheduleEntry{Queue: queue, Payload: payload, Every: every})
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.scheduleKey(name), buf, 0)
	pipe.ZAdd(ctx, r.scheduleIndexKey(), redis.Z{
		Score: float64(time.Now().Add(every).UnixMilli()), Member: name,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: schedule repeating: %w", err)
	}
	r.schedOnce.Do(func() { go r.runScheduler() })
	return nil
}

func (r *RedisStore) CancelRepeating(ctx context.Context, name string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.scheduleKey(name))
	pipe.ZRem(ctx, r.scheduleIndexKey(), name)
	_, err := pipe.Exec(ctx)
	return err
}

// runScheduler fires due repeating schedules until Close. Each firing is
// claimed through claimScheduleScript first, so concurrent replicas
// running their own loops over the same Redis enqueue each payload once
// per interval, not once per replica.
func (r *RedisStore) runScheduler() {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.schedStop:
			return
		case <-ticker.C:
			r.fireDueSchedules(context.Background())
		}
	}
}

func (r *RedisStore) fireDueSchedules(ctx context.Context) {
	now := time.Now()
	names, err := r.rdb.ZRangeByScore(ctx, r.scheduleIndexKey(), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return
	}
	for _, name := range names {
		raw, err := r.rdb.Get(ctx, r.scheduleKey(name)).Bytes()
		if err != nil {
			// Entry deleted between index scan and read; drop the index row.
			r.rdb.ZRem(ctx, r.scheduleIndexKey(), name)
			continue
		}
		var entry scheduleEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		next := now.Add(entry.Every)
		claimed, err := claimScheduleScript.Run(ctx, r.rdb, []string{r.scheduleIndexKey()},
			name, now.UnixMilli(), next.UnixMilli()).Int()
		if err != nil || claimed != 1 {
			continue
		}
		_, _ = r.Enqueue(ctx, entry.Queue, entry.Payload, EnqueueOptions{})
	}
}

func (r *RedisStore) Counts(ctx context.Context, queue entity.QueueName) (Counts, error) {
	waiting, err := r.rdb.ZCard(ctx, r.waitKey(queue)).Result()
	if err != nil {
		return Counts{}, err
	}
	delayed, err := r.rdb.ZCard(ctx, r.delayedKey(queue)).Result()
	if err != nil {
		return Counts{}, err
	}
	active, err := r.rdb.ZCard(ctx, r.activeKey(queue)).Result()
	if err != nil {
		return Counts{}, err
	}
	completed, err := r.rdb.ZCard(ctx, r.completedKey(queue)).Result()
	if err != nil {
		return Counts{}, err
	}
	failed, err := r.rdb.ZCard(ctx, r.failedKey(queue)).Result()
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   int(waiting),
		Delayed:   int(delayed),
		Active:    int(active),
		Completed: int(completed),
		Failed:    int(failed),
	}, nil
}

func (r *RedisStore) RenewLease(ctx context.Context, jobID string, lease time.Duration) error {
	data, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	return r.rdb.ZAdd(ctx, r.activeKey(data.Queue), redis.Z{
		Score: float64(time.Now().Add(lease).Unix()), Member: jobID,
	}).Err()
}

// ReapExpiredLeases scans every known queue's active set for entries
// scored (lease expiry) before now and returns them to the wait set with
// attempt incremented, the Redis analogue of the memory backend's lease
// sweep.
func (r *RedisStore) ReapExpiredLeases(ctx context.Context) (int, error) {
	queues := []entity.QueueName{entity.QueueFetch, entity.QueueNormalize, entity.QueueMedia, entity.QueueEnrichment}
	now := float64(time.Now().Unix())
	reaped := 0
	for _, q := range queues {
		expired, err := r.rdb.ZRangeByScore(ctx, r.activeKey(q), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
		if err != nil {
			return reaped, err
		}
		for _, id := range expired {
			data, err := r.loadJob(ctx, id)
			if err != nil {
				continue
			}
			data.Attempt++
			buf, _ := json.Marshal(data)
			priority, err := r.rdb.HGet(ctx, r.prioKey(), id).Int()
			if err != nil {
				priority = 5
			}
			seq, seqErr := r.nextSeq(ctx)
			if seqErr != nil {
				continue
			}
			pipe := r.rdb.TxPipeline()
			pipe.Set(ctx, r.jobKey(id), buf, 0)
			pipe.ZRem(ctx, r.activeKey(q), id)
			pipe.ZAdd(ctx, r.waitKey(q), redis.Z{Score: waitScore(priority, seq), Member: id})
			if _, err := pipe.Exec(ctx); err == nil {
				reaped++
			}
		}
	}
	return reaped, nil
}

func (r *RedisStore) GC(ctx context.Context) error {
	now := time.Now()
	queues := []entity.QueueName{entity.QueueFetch, entity.QueueNormalize, entity.QueueMedia, entity.QueueEnrichment, entity.QueueDeadLetter}
	for _, q := range queues {
		r.rdb.ZRemRangeByScore(ctx, r.completedKey(q), "-inf", fmt.Sprintf("%f", float64(now.Add(-time.Hour).Unix())))
		r.rdb.ZRemRangeByRank(ctx, r.completedKey(q), 0, -1001)
		r.rdb.ZRemRangeByScore(ctx, r.failedKey(q), "-inf", fmt.Sprintf("%f", float64(now.Add(-24*time.Hour).Unix())))
	}
	return nil
}

func (r *RedisStore) Close() error {
	select {
	case <-r.schedStop:
	default:
		close(r.schedStop)
	}
	return r.rdb.Close()
}
