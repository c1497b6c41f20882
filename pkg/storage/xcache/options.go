package xcache

import (
	"log/slog"
	"time"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
)

// 默认配置值。
const (
	// DefaultNullTTL 空值标记的默认 TTL。
	// 短于正常值的 TTL，使"源中后来出现了该 key"的情况能较快被发现。
	DefaultNullTTL = 2 * time.Minute

	// DefaultLockTTL 重建锁的默认 TTL。
	// 应大于一次回源加载的最坏耗时，避免加载途中锁过期导致并发回源。
	DefaultLockTTL = 10 * time.Second

	// DefaultMaxRetryAttempts 互斥策略等待锁释放时的最大重试次数。
	DefaultMaxRetryAttempts = 10

	// DefaultRebuildWorkers 逻辑过期策略后台重建工作池的默认大小。
	DefaultRebuildWorkers = 10

	// DefaultRebuildQueue 重建任务队列的默认容量。
	// 队列满时放弃本次重建（旧值已经返回，下一个读者会再次尝试）。
	DefaultRebuildQueue = 64
)

// Options 定义 Cache 的配置选项。
type Options struct {
	// NullTTL 空值标记的 TTL。
	NullTTL time.Duration

	// LockTTL 重建锁的 TTL。
	LockTTL time.Duration

	// LockFactory 重建锁工厂。
	// 默认使用基于同一 Redis 客户端的令牌锁（xdlock.NewTokenFactory）；
	// 多节点 Redlock 场景可注入 xdlock.NewRedsyncFactory 创建的工厂。
	LockFactory xdlock.Factory

	// MaxRetryAttempts 互斥策略下等待锁释放的最大重试次数。
	// 超过后升级为阻塞式锁获取，回源始终在锁内进行。
	MaxRetryAttempts int

	// RebuildWorkers 后台重建工作池的 goroutine 数。
	RebuildWorkers int

	// RebuildQueue 重建任务队列容量。
	RebuildQueue int

	// Logger 用于记录警告和错误日志。
	// 默认使用 slog.Default()，传入 nil 禁用日志输出。
	Logger *slog.Logger
}

// Option 定义配置 Cache 的函数类型。
type Option func(*Options)

// defaultOptions 返回默认配置。
func defaultOptions() *Options {
	return &Options{
		NullTTL:          DefaultNullTTL,
		LockTTL:          DefaultLockTTL,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		RebuildWorkers:   DefaultRebuildWorkers,
		RebuildQueue:     DefaultRebuildQueue,
		Logger:           slog.Default(),
	}
}

// WithNullTTL 设置空值标记的 TTL。
func WithNullTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.NullTTL = ttl
		}
	}
}

// WithLockTTL 设置重建锁的 TTL。
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.LockTTL = ttl
		}
	}
}

// WithLockFactory 注入重建锁工厂，替代内置令牌锁。
func WithLockFactory(factory xdlock.Factory) Option {
	return func(o *Options) {
		o.LockFactory = factory
	}
}

// WithMaxRetryAttempts 设置互斥策略的最大重试次数。
func WithMaxRetryAttempts(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRetryAttempts = n
		}
	}
}

// WithRebuildWorkers 设置后台重建工作池的大小。
func WithRebuildWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.RebuildWorkers = n
		}
	}
}

// WithRebuildQueue 设置重建任务队列容量。
func WithRebuildQueue(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.RebuildQueue = n
		}
	}
}

// WithLogger 设置自定义 Logger。传入 nil 将禁用日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
