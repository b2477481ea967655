package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSignatureCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisSignatureCache(client, time.Minute)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "overlap:a,b")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = c.Seen(ctx, "overlap:a,b")
	require.NoError(t, err)
	assert.True(t, seen)

	// Expiry frees the signature for re-reporting.
	mr.FastForward(2 * time.Minute)
	seen, err = c.Seen(ctx, "overlap:a,b")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemorySignatureCache(t *testing.T) {
	c := NewMemorySignatureCache(time.Minute)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = c.Seen(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = c.Seen(ctx, "sig-2")
	require.NoError(t, err)
	assert.False(t, seen)
}
