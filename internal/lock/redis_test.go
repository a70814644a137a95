package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreExclusivity(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "slot:1", "alice", time.Minute))
	require.ErrorIs(t, store.Acquire(ctx, "slot:1", "bob", time.Minute), ErrNotAcquired)
	require.NoError(t, store.Acquire(ctx, "slot:2", "bob", time.Minute))

	require.NoError(t, store.Release(ctx, "slot:1", "alice"))
	require.NoError(t, store.Acquire(ctx, "slot:1", "bob", time.Minute))
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "slot:1", "alice", time.Minute))

	got, err := mr.Get("lock:slot:1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "slot:1", "alice", 10*time.Second))
	require.ErrorIs(t, store.Acquire(ctx, "slot:1", "bob", 10*time.Second), ErrNotAcquired)

	mr.FastForward(11 * time.Second)

	require.NoError(t, store.Acquire(ctx, "slot:1", "bob", 10*time.Second))
}

func TestRedisStoreReleaseChecksHolder(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "slot:1", "alice", 10*time.Second))
	require.ErrorIs(t, store.Release(ctx, "slot:1", "bob"), ErrNotHeld)

	// The dangerous sequence: alice's lock expires, bob takes it, then
	// alice's late release arrives. It must not delete bob's lock.
	mr.FastForward(11 * time.Second)
	require.NoError(t, store.Acquire(ctx, "slot:1", "bob", 10*time.Second))
	require.ErrorIs(t, store.Release(ctx, "slot:1", "alice"), ErrNotHeld)

	got, err := mr.Get("lock:slot:1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

func TestRedisStoreDeleteExpiredIsNoOp(t *testing.T) {
	store, _ := newRedisStore(t)
	n, err := store.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManagerWithRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	m := NewManager(store, Options{
		DefaultTTL: time.Minute,
		Retries:    2,
		Backoff:    5 * time.Millisecond,
	}, zerolog.Nop())
	ctx := context.Background()

	err := m.WithLock(ctx, "slot:1", time.Minute, func(ctx context.Context) error {
		return m.Acquire(ctx, "slot:1", "someone-else", time.Minute)
	})
	require.ErrorIs(t, err, ErrNotAcquired, "nested acquisition of a held key fails")

	// Released on the way out despite the error.
	require.NoError(t, store.Acquire(ctx, "slot:1", "carol", time.Minute))
}
