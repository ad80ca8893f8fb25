package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestAcquireExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setup(t)

	lock, err := Acquire(ctx, rdb, Config{TTLSeconds: 60})
	require.NoError(t, err)
	require.Equal(t, lock.Token(), mustGet(t, mr, DefaultKey))

	_, err = Acquire(ctx, rdb, Config{TTLSeconds: 60})
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, lock.Release(ctx))
	require.False(t, mr.Exists(DefaultKey))

	again, err := Acquire(ctx, rdb, Config{TTLSeconds: 60})
	require.NoError(t, err)
	require.NotEqual(t, lock.Token(), again.Token())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setup(t)

	lock, err := Acquire(ctx, rdb, Config{Key: "custom", TTLSeconds: 10})
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, lock.Refresh(ctx))
	mr.FastForward(8 * time.Second)
	require.True(t, mr.Exists("custom"))

	mr.FastForward(3 * time.Second)
	require.False(t, mr.Exists("custom"))
	require.ErrorIs(t, lock.Refresh(ctx), ErrLost)
}

func TestReleaseForeign(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setup(t)

	lock, err := Acquire(ctx, rdb, Config{TTLSeconds: 1})
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := Acquire(ctx, rdb, Config{TTLSeconds: 60})
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	require.Equal(t, other.Token(), mustGet(t, mr, DefaultKey))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	value, err := mr.Get(key)
	require.NoError(t, err)
	return value
}

func TestKeepAlive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setup(t)

	lock, err := Acquire(ctx, rdb, Config{TTLSeconds: 10})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, lock.TTL())

	held, stop := lock.KeepAlive(ctx, 5*time.Millisecond)
	defer stop()

	mr.FastForward(8 * time.Second)
	require.Eventually(t, func() bool {
		return mr.TTL(DefaultKey) > 5*time.Second
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, held.Err())

	stop()
	require.ErrorIs(t, context.Cause(held), context.Canceled)
	require.True(t, mr.Exists(DefaultKey))
}

func TestKeepAliveLost(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setup(t)

	lock, err := Acquire(ctx, rdb, Config{TTLSeconds: 10})
	require.NoError(t, err)

	held, stop := lock.KeepAlive(ctx, 5*time.Millisecond)
	defer stop()

	// another run took over after the key expired
	mr.Set(DefaultKey, "someone-else")
	require.Eventually(t, func() bool {
		return held.Err() != nil
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, context.Cause(held), ErrLost)
	require.Equal(t, "someone-else", mustGet(t, mr, DefaultKey))
}
