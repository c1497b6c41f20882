package xdlock

import "time"

// 默认锁参数。
const (
	// DefaultKeyPrefix 默认锁 key 前缀，最终 key 为 "lock:{key}"。
	DefaultKeyPrefix = "lock:"

	// DefaultExpiry 默认锁 TTL。
	// 临界区应远短于该值；超时后锁自动释放以防持有者崩溃导致死锁。
	DefaultExpiry = 10 * time.Second

	// DefaultTries 阻塞式获取的默认尝试次数。
	DefaultTries = 32

	// DefaultRetryDelay 阻塞式获取的默认重试间隔。
	DefaultRetryDelay = 100 * time.Millisecond
)

// MutexOptions 定义单次锁获取的配置。
type MutexOptions struct {
	// KeyPrefix 锁 key 前缀。
	KeyPrefix string

	// Expiry 锁 TTL。
	Expiry time.Duration

	// Tries 阻塞式获取（Lock）的最大尝试次数。
	// TryLock 始终只尝试一次，不受此项影响。
	Tries int

	// RetryDelay 阻塞式获取的重试间隔。
	RetryDelay time.Duration
}

// MutexOption 定义配置锁的函数类型。
type MutexOption func(*MutexOptions)

// defaultMutexOptions 返回默认锁配置。
func defaultMutexOptions() *MutexOptions {
	return &MutexOptions{
		KeyPrefix:  DefaultKeyPrefix,
		Expiry:     DefaultExpiry,
		Tries:      DefaultTries,
		RetryDelay: DefaultRetryDelay,
	}
}

// WithKeyPrefix 设置锁 key 前缀。
func WithKeyPrefix(prefix string) MutexOption {
	return func(o *MutexOptions) {
		o.KeyPrefix = prefix
	}
}

// WithExpiry 设置锁 TTL。
func WithExpiry(expiry time.Duration) MutexOption {
	return func(o *MutexOptions) {
		if expiry > 0 {
			o.Expiry = expiry
		}
	}
}

// WithTries 设置阻塞式获取的最大尝试次数。
func WithTries(n int) MutexOption {
	return func(o *MutexOptions) {
		if n > 0 {
			o.Tries = n
		}
	}
}

// WithRetryDelay 设置阻塞式获取的重试间隔。
func WithRetryDelay(d time.Duration) MutexOption {
	return func(o *MutexOptions) {
		if d > 0 {
			o.RetryDelay = d
		}
	}
}
