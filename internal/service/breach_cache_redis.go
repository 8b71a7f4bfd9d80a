package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBreachCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBreachCache(client redis.UniversalClient, prefix string) *RedisBreachCache {
	if prefix == "" {
		prefix = "breach"
	}
	return &RedisBreachCache{client: client, prefix: prefix}
}

func (c *RedisBreachCache) Get(ctx context.Context, passwordHash string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.key(passwordHash)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *RedisBreachCache) Set(ctx context.Context, passwordHash string, breached bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	val := "0"
	if breached {
		val = "1"
	}
	return c.client.Set(ctx, c.key(passwordHash), val, ttl).Err()
}

func (c *RedisBreachCache) key(passwordHash string) string {
	return fmt.Sprintf("%s:verdict:%s", c.prefix, passwordHash)
}
