package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBlacklistStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBlacklistStore(client redis.UniversalClient, prefix string) *RedisBlacklistStore {
	if prefix == "" {
		prefix = "blacklist"
	}
	return &RedisBlacklistStore{client: client, prefix: prefix}
}

// Add stores a revoked-token hash. The TTL mirrors the token's own remaining
// lifetime, so the entry never outlives the token it blocks; a non-positive
// TTL means the token is already expired and needs no entry at all.
func (s *RedisBlacklistStore) Add(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(tokenHash), "1", ttl).Err()
}

func (s *RedisBlacklistStore) Contains(ctx context.Context, tokenHash string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisBlacklistStore) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenHash)
}
