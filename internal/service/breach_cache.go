package service

import (
	"context"
	"sync"
	"time"
)

// BreachCache remembers recent breach-corpus verdicts keyed by peppered
// password hash, so repeated logins with the same password do not re-query
// the external range API.
type BreachCache interface {
	Get(ctx context.Context, passwordHash string) (breached, found bool, err error)
	Set(ctx context.Context, passwordHash string, breached bool, ttl time.Duration) error
}

type NoopBreachCache struct{}

func (NoopBreachCache) Get(context.Context, string) (bool, bool, error) { return false, false, nil }

func (NoopBreachCache) Set(context.Context, string, bool, time.Duration) error { return nil }

type breachVerdict struct {
	breached  bool
	expiresAt time.Time
}

type InMemoryBreachCache struct {
	mu    sync.RWMutex
	store map[string]breachVerdict
}

func NewInMemoryBreachCache() *InMemoryBreachCache {
	return &InMemoryBreachCache{store: make(map[string]breachVerdict)}
}

func (c *InMemoryBreachCache) Get(_ context.Context, passwordHash string) (bool, bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	v, ok := c.store[passwordHash]
	c.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if now.After(v.expiresAt) {
		c.mu.Lock()
		delete(c.store, passwordHash)
		c.mu.Unlock()
		return false, false, nil
	}
	return v.breached, true, nil
}

func (c *InMemoryBreachCache) Set(_ context.Context, passwordHash string, breached bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[passwordHash] = breachVerdict{breached: breached, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}
