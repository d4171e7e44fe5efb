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

func setupLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisLocker(rdb, "eidos-campaign:writer:", 3*time.Second), mr
}

// TestRedisLock_SingleHolder 同一键只能被一个持有者获取
func TestRedisLock_SingleHolder(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()

	first := locker.NewLock("31337")
	second := locker.NewLock("31337")

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者不能释放
	assert.ErrorIs(t, second.Release(ctx), ErrLockNotHeld)

	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRedisLock_Extend 续期
func TestRedisLock_Extend(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	lock := locker.NewLock("1")
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	require.NoError(t, lock.Extend(ctx))
	mr.FastForward(2 * time.Second)
	assert.True(t, mr.Exists(lock.Key()))

	mr.FastForward(5 * time.Second)
	assert.False(t, mr.Exists(lock.Key()))
	assert.ErrorIs(t, lock.Extend(ctx), ErrLockNotHeld)
}

// TestRedisLock_AcquireOrWait_ContextCancel 等待被取消
func TestRedisLock_AcquireOrWait_ContextCancel(t *testing.T) {
	locker, _ := setupLocker(t)

	holder := locker.NewLock("1")
	ok, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	waiter := locker.NewLock("1")
	err = waiter.AcquireOrWait(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
