package xdlock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript 释放锁的 Lua 脚本。
// GET 与 DEL 在一次脚本执行内完成，保证"比较令牌并删除"的原子性：
// 返回 1 表示成功释放，0 表示锁已不属于当前持有者（过期或被抢走）。
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// tokenFactory 实现 Factory 接口，单节点令牌锁。
type tokenFactory struct {
	client redis.UniversalClient
	closed atomic.Bool
}

// NewTokenFactory 创建令牌锁工厂。
//
// 每次获取锁都会生成一个进程内唯一的 UUID 令牌写入锁 key，
// 释放时由 Lua 脚本校验令牌归属。单节点语义；多节点 Redlock
// 场景请使用 NewRedsyncFactory。
func NewTokenFactory(client redis.UniversalClient) (Factory, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &tokenFactory{client: client}, nil
}

// TryLock 非阻塞式获取锁，单次 SET NX 尝试。
func (f *tokenFactory) TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	options, err := f.prepare(key, opts...)
	if err != nil {
		return nil, err
	}
	return f.tryAcquire(ctx, options.KeyPrefix+key, options.Expiry)
}

// Lock 阻塞式获取锁，按 Tries/RetryDelay 重试。
func (f *tokenFactory) Lock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	options, err := f.prepare(key, opts...)
	if err != nil {
		return nil, err
	}
	fullKey := options.KeyPrefix + key

	handle, err := f.tryAcquire(ctx, fullKey, options.Expiry)
	if err != nil || handle != nil {
		return handle, err
	}

	timer := time.NewTimer(options.RetryDelay)
	defer timer.Stop()

	for i := 1; i < options.Tries; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		handle, err := f.tryAcquire(ctx, fullKey, options.Expiry)
		if err != nil || handle != nil {
			return handle, err
		}

		if i < options.Tries-1 {
			timer.Reset(options.RetryDelay)
		}
	}
	return nil, ErrLockFailed
}

// prepare 校验入参并应用配置。
func (f *tokenFactory) prepare(key string, opts ...MutexOption) (*MutexOptions, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	options := defaultMutexOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Expiry <= 0 {
		return nil, ErrInvalidExpiry
	}
	return options, nil
}

// tryAcquire 执行一次 SET NX。未获取到锁时返回 (nil, nil)。
func (f *tokenFactory) tryAcquire(ctx context.Context, fullKey string, expiry time.Duration) (LockHandle, error) {
	token := uuid.NewString()
	acquired, err := f.client.SetNX(ctx, fullKey, token, expiry).Result()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	return &tokenLockHandle{
		client: f.client,
		key:    fullKey,
		token:  token,
	}, nil
}

// Close 关闭工厂。幂等。
func (f *tokenFactory) Close() error {
	f.closed.Store(true)
	return nil
}

// tokenLockHandle 实现 LockHandle 接口。
type tokenLockHandle struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Unlock 释放锁。
//
// 允许在 factory 关闭后解锁，避免锁悬挂等待 TTL 过期。
func (h *tokenLockHandle) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, h.client, []string{h.key}, h.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotLocked
	}
	return nil
}

// Key 返回锁的完整 key。
func (h *tokenLockHandle) Key() string {
	return h.key
}
