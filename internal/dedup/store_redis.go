package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with plain Redis SETNX/GET semantics: Mark sets
// a key with a TTL, Check reads it back. This is the simplest possible
// use of the shared Redis connection also used by internal/queue and
// internal/ratelimit.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "contentpipe:dedup:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) Check(ctx context.Context, key string) (bool, string, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, val, nil
}

func (r *RedisStore) Mark(ctx context.Context, key string, contentID string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, contentID, ttl).Err()
}
