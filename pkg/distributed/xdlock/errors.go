package xdlock

import "errors"

var (
	// ErrNilClient 表示传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xdlock: client is nil")

	// ErrEmptyKey 表示锁 key 为空字符串。
	ErrEmptyKey = errors.New("xdlock: empty key")

	// ErrInvalidExpiry 表示锁 TTL 非正。
	ErrInvalidExpiry = errors.New("xdlock: expiry must be positive")

	// ErrLockFailed 表示阻塞式获取在重试耗尽后仍未拿到锁。
	ErrLockFailed = errors.New("xdlock: failed to acquire lock")

	// ErrNotLocked 表示释放时锁已过期或被其他持有者覆盖。
	// 调用方通常将其视为无操作：锁本体未被破坏。
	ErrNotLocked = errors.New("xdlock: not locked")

	// ErrFactoryClosed 表示工厂已关闭。
	ErrFactoryClosed = errors.New("xdlock: factory is closed")
)
