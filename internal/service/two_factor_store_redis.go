package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisTwoFactorStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTwoFactorStore(client redis.UniversalClient, prefix string) *RedisTwoFactorStore {
	if prefix == "" {
		prefix = "twofactor"
	}
	return &RedisTwoFactorStore{client: client, prefix: prefix}
}

func (s *RedisTwoFactorStore) Put(ctx context.Context, challengeID, codeHash string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(challengeID), codeHash, ttl).Err()
}

// Take consumes the pending code. GETDEL makes each challenge single-use:
// a second verification attempt against the same challenge finds nothing.
func (s *RedisTwoFactorStore) Take(ctx context.Context, challengeID string) (string, bool, error) {
	codeHash, err := s.client.GetDel(ctx, s.key(challengeID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return codeHash, true, nil
}

func (s *RedisTwoFactorStore) key(challengeID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, challengeID)
}
