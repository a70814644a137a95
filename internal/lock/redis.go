package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the registry with per-key Redis strings. SetNX is the
// atomic insert-if-absent; Redis expires stale records itself, so no explicit
// reclaim pass is needed here.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "lock:",
	}
}

func (s *RedisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+key, holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// releaseScript deletes the key only when the stored holder matches, so a
// holder whose lock expired and was re-acquired cannot release someone else's.
var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (s *RedisStore) Release(ctx context.Context, key, holder string) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, holder).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrNotHeld
	}
	return nil
}

// DeleteExpired is a no-op for Redis: key TTLs already enforce expiry.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
