package xdlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// redsyncFactory 实现 Factory 接口，基于 redsync。
type redsyncFactory struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	closed  atomic.Bool
}

// NewRedsyncFactory 创建 redsync 锁工厂。
// 单节点为标准 Redis 锁；多节点使用 Redlock 算法（需过半成功）。
func NewRedsyncFactory(clients ...redis.UniversalClient) (Factory, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	for i, client := range clients {
		if client == nil {
			return nil, errors.Join(ErrNilClient, errors.New("client at index "+strconv.Itoa(i)+" is nil"))
		}
	}

	pools := make([]rsredis.Pool, len(clients))
	for i, client := range clients {
		pools[i] = goredis.NewPool(client)
	}

	return &redsyncFactory{
		clients: clients,
		rs:      redsync.New(pools...),
	}, nil
}

// TryLock 非阻塞式获取锁。锁被占用时返回 (nil, nil)。
func (f *redsyncFactory) TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	mutex, fullKey, err := f.createMutex(key, opts...)
	if err != nil {
		return nil, err
	}

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) {
			return nil, nil
		}
		if errors.Is(err, redsync.ErrFailed) {
			return nil, nil
		}
		return nil, err
	}

	return &redsyncLockHandle{mutex: mutex, key: fullKey}, nil
}

// Lock 阻塞式获取锁，重试次数与间隔由选项控制。
func (f *redsyncFactory) Lock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	mutex, fullKey, err := f.createMutex(key, opts...)
	if err != nil {
		return nil, err
	}

	if err := mutex.LockContext(ctx); err != nil {
		// redsync 不会传递 context 错误，需要单独检查
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrLockFailed, err)
	}

	return &redsyncLockHandle{mutex: mutex, key: fullKey}, nil
}

// createMutex 按选项创建 redsync.Mutex。
func (f *redsyncFactory) createMutex(key string, opts ...MutexOption) (*redsync.Mutex, string, error) {
	if f.closed.Load() {
		return nil, "", ErrFactoryClosed
	}
	if key == "" {
		return nil, "", ErrEmptyKey
	}

	options := defaultMutexOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Expiry <= 0 {
		return nil, "", ErrInvalidExpiry
	}

	fullKey := options.KeyPrefix + key
	mutex := f.rs.NewMutex(fullKey,
		redsync.WithExpiry(options.Expiry),
		redsync.WithTries(options.Tries),
		redsync.WithRetryDelay(options.RetryDelay),
	)
	return mutex, fullKey, nil
}

// Close 关闭工厂。
// redsync 没有需要释放的资源；Redis 客户端由调用者管理。
func (f *redsyncFactory) Close() error {
	f.closed.Store(true)
	return nil
}

// redsyncLockHandle 实现 LockHandle 接口。
type redsyncLockHandle struct {
	mutex *redsync.Mutex
	key   string
}

// Unlock 释放锁。
// redsync 内部同样以"比较持有者值并删除"的脚本方式释放，
// 锁已过期或被抢走时映射为 ErrNotLocked。
func (h *redsyncLockHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return ErrNotLocked
		}
		return err
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

// Key 返回锁的完整 key。
func (h *redsyncLockHandle) Key() string {
	return h.key
}
