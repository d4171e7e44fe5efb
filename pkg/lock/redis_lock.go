// Package lock 提供基于 Redis 的单写者租约
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotHeld 锁未持有 (已过期或被其他实例获取)
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockAcquireFailed 获取锁失败
	ErrLockAcquireFailed = errors.New("failed to acquire lock")
)

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// 只有持有者才能续期
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker Redis 锁管理器
type RedisLocker struct {
	client     redis.UniversalClient
	keyPrefix  string
	expiration time.Duration
}

// NewRedisLocker 创建 Redis 锁管理器
func NewRedisLocker(client redis.UniversalClient, keyPrefix string, expiration time.Duration) *RedisLocker {
	if expiration == 0 {
		expiration = 30 * time.Second
	}
	return &RedisLocker{
		client:     client,
		keyPrefix:  keyPrefix,
		expiration: expiration,
	}
}

// NewLock 创建一个新锁，每个锁持有唯一 token
func (l *RedisLocker) NewLock(key string) *RedisLock {
	return &RedisLock{
		client:     l.client,
		key:        l.keyPrefix + key,
		token:      uuid.New().String(),
		expiration: l.expiration,
	}
}

// RedisLock Redis 分布式锁
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	expiration time.Duration
}

// Key 返回完整的锁键
func (lock *RedisLock) Key() string {
	return lock.key
}

// Acquire 获取锁 (非阻塞)
func (lock *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := lock.client.SetNX(ctx, lock.key, lock.token, lock.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock failed: %w", err)
	}
	return ok, nil
}

// AcquireOrWait 阻塞直到获取锁或 ctx 结束
func (lock *RedisLock) AcquireOrWait(ctx context.Context, retryInterval time.Duration) error {
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release 释放锁
func (lock *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 续期锁
func (lock *RedisLock) Extend(ctx context.Context) error {
	result, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.token, lock.expiration.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// KeepAlive 以 expiration/3 的间隔续期，直到 ctx 结束或续期失败。
// 续期失败时调用 onLost，调用方必须停止写入。
func (lock *RedisLock) KeepAlive(ctx context.Context, onLost func(err error)) {
	ticker := time.NewTicker(lock.expiration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if onLost != nil {
					onLost(err)
				}
				return
			}
		}
	}
}
