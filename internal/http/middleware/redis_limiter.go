package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowLimiter shares one window across replicas. The INCR and
// the expiry are set in one script so a crash between them cannot leave a
// counter that never resets.
type redisFixedWindowLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
}

var limiterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

func NewRedisFixedWindowLimiter(client redis.UniversalClient, keyPrefix string) Limiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit"
	}
	return &redisFixedWindowLimiter{client: client, keyPrefix: keyPrefix}
}

func (l *redisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	redisKey := l.keyPrefix + ":" + key

	res, err := limiterScript.Run(ctx, l.client, []string{redisKey}, policy.SustainedWindow.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %T", res)
	}
	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)

	remaining := policy.SustainedLimit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = policy.SustainedWindow
	}
	now := time.Now()
	allowed := count <= int64(policy.SustainedLimit)
	decision := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(retryAfter),
	}
	if !allowed {
		decision.RetryAfter = retryAfter
		decision.Reason = "window"
	}
	return decision, nil
}
