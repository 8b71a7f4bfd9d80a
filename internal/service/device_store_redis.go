package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisDeviceStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDeviceStore(client redis.UniversalClient, prefix string) *RedisDeviceStore {
	if prefix == "" {
		prefix = "device"
	}
	return &RedisDeviceStore{client: client, prefix: prefix}
}

// Known devices get one key per (user, fingerprint) so each device carries
// its own expiry instead of the whole set sharing one.
func (s *RedisDeviceStore) IsKnownDevice(ctx context.Context, userID uint, fingerprintHash string) (bool, error) {
	_, err := s.client.Get(ctx, s.deviceKey(userID, fingerprintHash)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisDeviceStore) RegisterDevice(ctx context.Context, userID uint, fingerprintHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.deviceKey(userID, fingerprintHash), "1", ttl).Err()
}

func (s *RedisDeviceStore) LastLocation(ctx context.Context, userID uint) (Location, bool, error) {
	raw, err := s.client.Get(ctx, s.locationKey(userID)).Bytes()
	if err == redis.Nil {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return Location{}, false, err
	}
	return loc, true, nil
}

func (s *RedisDeviceStore) SetLastLocation(ctx context.Context, userID uint, loc Location, ttl time.Duration) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.locationKey(userID), payload, ttl).Err()
}

func (s *RedisDeviceStore) BlockIP(ctx context.Context, ip string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.ipKey(ip), "1", ttl).Err()
}

func (s *RedisDeviceStore) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	_, err := s.client.Get(ctx, s.ipKey(ip)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisDeviceStore) deviceKey(userID uint, fingerprintHash string) string {
	return fmt.Sprintf("%s:known:%d:%s", s.prefix, userID, fingerprintHash)
}

func (s *RedisDeviceStore) locationKey(userID uint) string {
	return fmt.Sprintf("%s:location:%d", s.prefix, userID)
}

func (s *RedisDeviceStore) ipKey(ip string) string {
	return fmt.Sprintf("%s:blocked_ip:%s", s.prefix, ip)
}
