package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	_, client := newTestRedis(t)
	lock := NewRedisLock(client, ListSetKey, time.Minute)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx))

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free again after release")
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, ListSetKey, time.Minute)
	second := NewRedisLock(client, ListSetKey, time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire while first owns the lock")

	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ReleaseDoesNotStealExpiredLock(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, ListSetKey, time.Second)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL expires and another run takes the lock.
	mr.FastForward(2 * time.Second)
	second := NewRedisLock(client, ListSetKey, time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder's release is a no-op for the new owner.
	require.NoError(t, first.Release(ctx))
	ok, err = first.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second still holds the lock")
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, ListSetKey, time.Second)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	second := NewRedisLock(client, ListSetKey, time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's lock frees itself via TTL")
}

func TestRedisLock_Extend(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, ListSetKey, time.Second)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Extend(ctx, time.Minute))
	mr.FastForward(2 * time.Second)

	other := NewRedisLock(client, ListSetKey, time.Minute)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extended lease outlives the original TTL")
}

func TestNewLock_PrefersRedis(t *testing.T) {
	_, client := newTestRedis(t)

	lock := NewLock(client, nil, ListSetKey, time.Minute)
	_, isRedis := lock.(*RedisLock)
	assert.True(t, isRedis)

	lock = NewLock(nil, nil, ListSetKey, time.Minute)
	_, isPG := lock.(*PGAdvisoryLock)
	assert.True(t, isPG)
}

func TestNewPGAdvisoryLock_DeterministicID(t *testing.T) {
	a := NewPGAdvisoryLock(nil, ListSetKey)
	b := NewPGAdvisoryLock(nil, ListSetKey)
	c := NewPGAdvisoryLock(nil, "other-key")

	assert.Equal(t, a.lockID, b.lockID, "same key hashes to the same advisory lock ID")
	assert.NotEqual(t, a.lockID, c.lockID)
}
