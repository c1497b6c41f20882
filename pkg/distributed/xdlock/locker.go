package xdlock

import "context"

// LockHandle 表示一次成功的锁获取。
//
// 每次 TryLock/Lock 成功都会返回一个新的 handle，内部封装了本次获取的
// 唯一持有者令牌。只有持有该令牌的 handle 才能释放锁，
// 不同获取之间不会互相干扰。
type LockHandle interface {
	// Unlock 释放锁。
	//
	// 在一次原子操作中比较存储的令牌并删除 key。
	// 返回 [ErrNotLocked] 表示锁已过期或被其他持有者重新获取，
	// 此时不删除任何 key，调用方可将其视为无操作。
	Unlock(ctx context.Context) error

	// Key 返回锁的完整 key（含前缀），用于日志记录等场景。
	Key() string
}

// Factory 定义锁工厂接口。
// 工厂持有底层客户端引用，并按需创建锁。
type Factory interface {
	// TryLock 非阻塞式获取锁，单次尝试。
	//
	// 成功时返回 LockHandle；锁被其他持有者占用时返回 (nil, nil) ——
	// 竞争失败是正常结果，不是错误。err 非 nil 表示锁服务异常。
	TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)

	// Lock 阻塞式获取锁。
	//
	// 按配置的 Tries/RetryDelay 重试，直到获取到锁、重试耗尽
	// （返回 [ErrLockFailed]）或 ctx 取消。
	Lock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)

	// Close 关闭工厂。关闭后不应再创建新的锁。
	// 不会关闭传入的 Redis 客户端，客户端生命周期由调用者管理。
	Close() error
}
