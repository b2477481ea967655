package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisManager(t *testing.T) *RedisManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisManager(client, "test:lock:")
}

func TestRedisManager(t *testing.T) {
	t.Run("serializes competing holders", func(t *testing.T) {
		m := newRedisManager(t)

		release1, err := m.Acquire(context.Background(), "item-1", time.Minute)
		require.NoError(t, err)

		// A second acquire must wait until the first holder releases.
		acquired := make(chan struct{})
		go func() {
			release2, err := m.Acquire(context.Background(), "item-1", time.Minute)
			if err == nil {
				close(acquired)
				release2()
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second acquire succeeded while lock held")
		case <-time.After(100 * time.Millisecond):
		}

		release1()
		select {
		case <-acquired:
		case <-time.After(2 * time.Second):
			t.Fatal("second acquire never succeeded after release")
		}
	})

	t.Run("independent keys do not contend", func(t *testing.T) {
		m := newRedisManager(t)

		release1, err := m.Acquire(context.Background(), "item-1", time.Minute)
		require.NoError(t, err)
		defer release1()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		release2, err := m.Acquire(ctx, "item-2", time.Minute)
		require.NoError(t, err)
		release2()
	})

	t.Run("times out when held", func(t *testing.T) {
		m := newRedisManager(t)

		release, err := m.Acquire(context.Background(), "item-1", time.Minute)
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()
		_, err = m.Acquire(ctx, "item-1", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)
	})
}

func TestLocalManager(t *testing.T) {
	m := NewLocalManager()

	var held int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "shared", 0)
			if err != nil {
				return
			}
			mu.Lock()
			held++
			assert.Equal(t, 1, held)
			held--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
}
