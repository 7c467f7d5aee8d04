package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the fleet-wide Store, used when multiple worker
// processes share one admission budget per source (spec.md §4.C). Each
// source's hits live in a sorted set scored by timestamp; a Lua script
// trims, counts, and conditionally records in a single round trip, the
// same atomic-op discipline internal/queue's RedisStore uses for job
// reservation.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing *redis.Client. prefix namespaces all
// keys (e.g. "contentpipe:ratelimit:"). ttl bounds how long an idle
// source's sorted set survives before Redis expires it outright, so a
// source that stops being polled doesn't leak memory forever.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "contentpipe:ratelimit:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) zkey(key SourceKey) string {
	return s.prefix + key.String()
}

// checkAndAdmitScript trims hits at or before cutoff, counts what
// remains, and conditionally records the new hit — all inside one EVAL
// so concurrent workers never observe a stale count between the read
// and the write.
var checkAndAdmitScript = redis.NewScript(`
local key = KEYS[1]
local cutoff = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local member = ARGV[3]
local limit = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)

if count >= limit then
  return {0, count}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return {1, count + 1}
`)

func (s *RedisStore) CheckAndAdmit(ctx context.Context, key SourceKey, at, cutoff time.Time, limit int) (bool, int, error) {
	member := fmt.Sprintf("%d-%s", at.UnixNano(), key.SourceID)
	res, err := checkAndAdmitScript.Run(ctx, s.rdb, []string{s.zkey(key)},
		cutoff.UnixNano(), at.UnixNano(), member, limit, int(s.ttl.Seconds())).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: check and admit: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return allowed == 1, int(count), nil
}

func (s *RedisStore) CountSince(ctx context.Context, key SourceKey, cutoff time.Time) (int, error) {
	count, err := s.rdb.ZCount(ctx, s.zkey(key), fmt.Sprintf("(%d", cutoff.UnixNano()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: count since: %w", err)
	}
	return int(count), nil
}

func (s *RedisStore) OldestSince(ctx context.Context, key SourceKey, cutoff time.Time) (time.Time, bool, error) {
	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, s.zkey(key), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", cutoff.UnixNano()), Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ratelimit: oldest since: %w", err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(entries[0].Score)), true, nil
}
