package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisLockExclusive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr, rdb := testRedis(t)

	// two instances stand in for two processes
	a := New(rdb, "scoring", time.Minute, nil)
	b := New(rdb, "scoring", time.Minute, nil)

	lease, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(lease.local)
	assert.True(mr.Exists("agora:lock:scoring"))
	assert.Equal(time.Minute, mr.TTL("agora:lock:scoring"))

	_, err = b.TryAcquire(ctx)
	assert.ErrorIs(err, ErrHeld)

	require.NoError(t, lease.Release(ctx))
	assert.False(mr.Exists("agora:lock:scoring"))

	lease, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr, rdb := testRedis(t)

	a := New(rdb, "scoring", time.Minute, nil)
	b := New(rdb, "scoring", time.Minute, nil)

	stale, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	fresh, err := b.TryAcquire(ctx)
	require.NoError(t, err)

	// the expired holder must not delete the new holder's key
	require.NoError(t, stale.Release(ctx))
	assert.True(mr.Exists("agora:lock:scoring"))
	_, err = a.TryAcquire(ctx)
	assert.ErrorIs(err, ErrHeld)

	require.NoError(t, fresh.Release(ctx))
	assert.False(mr.Exists("agora:lock:scoring"))
}

func TestLocalFallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	l := New(nil, "scoring", 0, nil)
	assert.Equal(DefaultTTL, l.ttl)

	lease, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(lease.local)
	_, err = l.TryAcquire(ctx)
	assert.ErrorIs(err, ErrHeld)
	require.NoError(t, lease.Release(ctx))

	lease, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestFallbackWhenRedisDown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	// nothing listens on the discard port
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:9", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	l := New(rdb, "scoring", time.Minute, nil)
	lease, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(lease.local)
	_, err = l.TryAcquire(ctx)
	assert.ErrorIs(err, ErrHeld)
	require.NoError(t, lease.Release(ctx))
}
