// Package cache holds short-lived coordination state that does not belong
// in the system of record.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// SignatureCache remembers recently reported conflict signatures so the
// same underlying clash is not re-emitted across repeated detection scans.
type SignatureCache interface {
	// Seen marks the signature and reports whether it was already present.
	Seen(ctx context.Context, signature string) (bool, error)
}

// RedisSignatureCache implements SignatureCache with TTL keys.
type RedisSignatureCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSignatureCache creates a redis-backed signature cache.
func NewRedisSignatureCache(client *redis.Client, ttl time.Duration) *RedisSignatureCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSignatureCache{
		client: client,
		prefix: "concord:sig:",
		ttl:    ttl,
	}
}

// Seen implements SignatureCache.
func (c *RedisSignatureCache) Seen(ctx context.Context, signature string) (bool, error) {
	set, err := c.client.SetNX(ctx, c.prefix+signature, 1, c.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check signature")
	}
	return !set, nil
}

// MemorySignatureCache is the in-process default. Entries expire lazily.
type MemorySignatureCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemorySignatureCache creates an in-memory signature cache.
func NewMemorySignatureCache(ttl time.Duration) *MemorySignatureCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemorySignatureCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Seen implements SignatureCache.
func (c *MemorySignatureCache) Seen(ctx context.Context, signature string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if expiry, ok := c.entries[signature]; ok && now.Before(expiry) {
		return true, nil
	}
	c.entries[signature] = now.Add(c.ttl)
	return false, nil
}
