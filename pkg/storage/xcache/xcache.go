package xcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
)

// nullMarker 写入缓存的空值标记。
// 真实值都是 JSON 序列化结果，不可能为空字符串，两者不会混淆。
const nullMarker = ""

// envelope 逻辑过期策略的包装记录。
// 物理上不设 TTL，过期与否由应用按 ExpireAt 判断。
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

// Cache 旁路缓存客户端。
//
// Redis 是缓存值的唯一权威存储，Cache 不持有业务状态。
// 并发安全；Close 关闭内部重建工作池（不关闭传入的 Redis 客户端）。
type Cache struct {
	client    redis.UniversalClient
	options   *Options
	locks     xdlock.Factory
	ownsLocks bool
	group     singleflight.Group
	pool      *rebuildPool
	closed    atomic.Bool
}

// New 创建 Cache 实例。
// client 必须是已初始化的 redis.UniversalClient。
func New(client redis.UniversalClient, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	locks := options.LockFactory
	ownsLocks := false
	if locks == nil {
		var err error
		locks, err = xdlock.NewTokenFactory(client)
		if err != nil {
			return nil, err
		}
		ownsLocks = true
	}

	return &Cache{
		client:    client,
		options:   options,
		locks:     locks,
		ownsLocks: ownsLocks,
		pool:      newRebuildPool(options.RebuildWorkers, options.RebuildQueue),
	}, nil
}

// Client 返回底层的 go-redis 客户端。
func (c *Cache) Client() redis.UniversalClient {
	return c.client
}

// Set 序列化 value 并以物理 TTL 写入缓存。
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("xcache: marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("xcache: set %s: %w", key, err)
	}
	return nil
}

// SetLogical 以逻辑过期方式写入缓存：值被包装为 {data, expireAt}，
// 不设置物理 TTL。这是逻辑过期策略的预热入口，QueryWithLogicalExpiry
// 只读取这种格式的记录。
func (c *Cache) SetLogical(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("xcache: marshal %s: %w", key, err)
	}
	env, err := json.Marshal(envelope{
		Data:     data,
		ExpireAt: time.Now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("xcache: marshal envelope %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, env, 0).Err(); err != nil {
		return fmt.Errorf("xcache: set %s: %w", key, err)
	}
	return nil
}

// Delete 删除缓存 key。
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("xcache: delete %s: %w", key, err)
	}
	return nil
}

// Close 关闭 Cache，等待在途的后台重建完成。
// 不会关闭传入的 Redis 客户端；注入的锁工厂同样由调用方管理。
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.pool.close()
	if c.ownsLocks {
		return c.locks.Close()
	}
	return nil
}

// setNull 写入空值标记，防止对同一不存在 key 的穿透查询。
func (c *Cache) setNull(ctx context.Context, key string) error {
	return c.client.Set(ctx, key, nullMarker, c.options.NullTTL).Err()
}

// logWarn 记录警告日志（如果配置了 Logger）。
func (c *Cache) logWarn(msg string, args ...any) {
	if c.options.Logger != nil {
		c.options.Logger.Warn(msg, args...)
	}
}
