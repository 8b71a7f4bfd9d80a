package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCSRFSecretStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCSRFSecretStore(client redis.UniversalClient, prefix string) *RedisCSRFSecretStore {
	if prefix == "" {
		prefix = "csrf"
	}
	return &RedisCSRFSecretStore{client: client, prefix: prefix}
}

func (s *RedisCSRFSecretStore) Get(ctx context.Context, sessionID string) (string, string, time.Time, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return "", "", time.Time{}, false, err
	}
	if len(vals) == 0 {
		return "", "", time.Time{}, false, nil
	}
	issuedMs, err := strconv.ParseInt(vals["issued_at_ms"], 10, 64)
	if err != nil {
		return "", "", time.Time{}, false, fmt.Errorf("parse issued_at_ms: %w", err)
	}
	return vals["secret"], vals["token_id"], time.UnixMilli(issuedMs), true, nil
}

func (s *RedisCSRFSecretStore) Put(ctx context.Context, sessionID, secret, tokenID string, issuedAt time.Time, ttl time.Duration) error {
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"secret", secret,
		"token_id", tokenID,
		"issued_at_ms", strconv.FormatInt(issuedAt.UnixMilli(), 10),
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCSRFSecretStore) key(sessionID string) string {
	return fmt.Sprintf("%s:secret:%s", s.prefix, sessionID)
}
