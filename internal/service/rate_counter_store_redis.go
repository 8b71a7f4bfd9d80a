package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWithExpiry bumps the counter and stamps the window TTL in one
// round trip. INCR and PEXPIRE must be indivisible: a crash between the two
// would otherwise leave a counter that never expires (or never limits).
var incrementWithExpiry = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

type RedisRateCounterStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateCounterStore(client redis.UniversalClient, prefix string) *RedisRateCounterStore {
	if prefix == "" {
		prefix = "rate"
	}
	return &RedisRateCounterStore{client: client, prefix: prefix}
}

func (s *RedisRateCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementWithExpiry.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %T", res)
	}
	count, ok := vals[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected count type %T", vals[0])
	}
	ttlMs, ok := vals[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected ttl type %T", vals[1])
	}
	remaining := time.Duration(ttlMs) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	return count, remaining, nil
}

func (s *RedisRateCounterStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisRateCounterStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
