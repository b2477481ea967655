// Package locks serializes schedule mutations across processes. Every
// negotiation-resolution application and cascading propagation takes the
// per-item lock first, so concurrent updates to overlapping subgraphs
// cannot interleave partial state.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotAcquired is returned when the lock cannot be obtained before the
// context expires.
var ErrNotAcquired = errors.New("lock not acquired")

// Manager grants exclusive, TTL-bounded locks by key.
type Manager interface {
	// Acquire blocks until the lock is held or ctx expires. The returned
	// release function is safe to call exactly once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisManager implements Manager over a shared redis instance.
type RedisManager struct {
	client    *redis.Client
	keyPrefix string
	retryWait time.Duration
}

// NewRedisManager creates a redis-backed lock manager.
func NewRedisManager(client *redis.Client, keyPrefix string) *RedisManager {
	if keyPrefix == "" {
		keyPrefix = "concord:lock:"
	}
	return &RedisManager{
		client:    client,
		keyPrefix: keyPrefix,
		retryWait: 25 * time.Millisecond,
	}
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := m.keyPrefix + key

	for {
		ok, err := m.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "failed to acquire lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ErrNotAcquired, ctx.Err().Error())
		case <-time.After(m.retryWait):
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, m.client, []string{fullKey}, token).Err()
	}
	return release, nil
}

// LocalManager implements Manager with in-process mutexes; the default for
// single-process deployments and tests.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalManager creates an in-process lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{locks: make(map[string]*sync.Mutex)}
}

// Acquire implements Manager. TTL is ignored; in-process locks live until
// released.
func (m *LocalManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		lock.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return lock.Unlock, nil
	case <-ctx.Done():
		// The goroutine will still grab the lock; hand it straight back.
		go func() {
			<-acquired
			lock.Unlock()
		}()
		return nil, errors.Wrap(ErrNotAcquired, ctx.Err().Error())
	}
}
