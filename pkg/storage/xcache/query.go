package xcache

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
)

// LoadFunc 定义从后端源加载实体的函数类型。
// 源中不存在时返回 [ErrNotFound]；其他错误视为源不可用。
type LoadFunc[T any] func(ctx context.Context, id string) (T, error)

// 互斥策略等待锁释放的退避参数。
const (
	baseBackoff    = 50 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
	jitterFraction = 0.3
)

// unlockTimeout 释放重建锁的独立超时，不受调用方 ctx 取消影响。
const unlockTimeout = 5 * time.Second

// QueryWithPassthrough 旁路查询，内置空值缓存防穿透。
//
// 缓存命中真实值时直接返回；命中空值标记时返回 ErrNotFound 且不触达
// 回源；未命中时调用 load，源中不存在则写入短 TTL 的空值标记。
// 缓存 key 为 keyPrefix + id。
func QueryWithPassthrough[T any](ctx context.Context, c *Cache, keyPrefix, id string, load LoadFunc[T], ttl time.Duration) (T, error) {
	var zero T
	if err := validateQuery(c, load); err != nil {
		return zero, err
	}

	key := keyPrefix + id
	if v, done, err := lookup[T](ctx, c, key); done {
		return v, err
	}
	return loadAndCache(ctx, c, key, id, load, ttl)
}

// QueryWithMutex 互斥重建查询，防缓存击穿。
//
// 未命中时先经进程内 singleflight 合并同 key 的并发请求，再以分布式
// 重建锁保护回源：一个未命中窗口内，数据库至多被查询一次。未抢到锁的
// 调用方以指数退避 + 抖动等待后重读缓存；重试耗尽后升级为阻塞式锁
// 获取，回源始终在持有重建锁的前提下进行。锁持续不可得时返回
// [ErrLockContended]，调用方会被阻塞直到值可用或获取失败，
// 以延迟换取回源次数的确定上界。
func QueryWithMutex[T any](ctx context.Context, c *Cache, keyPrefix, id string, load LoadFunc[T], ttl time.Duration) (T, error) {
	var zero T
	if err := validateQuery(c, load); err != nil {
		return zero, err
	}

	key := keyPrefix + id
	if v, done, err := lookup[T](ctx, c, key); done {
		return v, err
	}

	// singleflight 内使用脱离取消链的 ctx，
	// 首个调用者取消不影响其他等待者共享加载结果。
	sfCtx := context.WithoutCancel(ctx)
	res, err, _ := c.group.Do(key, func() (any, error) {
		return mutexLoad(sfCtx, c, key, id, load, ttl)
	})
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("xcache: unexpected result type from singleflight")
	}
	return v, nil
}

// QueryWithLogicalExpiry 逻辑过期查询，防缓存击穿。
//
// 该策略要求缓存通过 SetLogical 预热，请求路径上永不回源：
// key 不存在直接返回 ErrNotFound。未过期时返回缓存值；已过期时仍立即
// 返回旧值，同时尝试获取重建锁，成功则把"回源 + 写新包装记录 + 释放锁"
// 交给后台工作池执行——同一 key 至多一个并发重建，旧值的可见窗口
// 以一次重建耗时为界。
func QueryWithLogicalExpiry[T any](ctx context.Context, c *Cache, keyPrefix, id string, load LoadFunc[T], ttl time.Duration) (T, error) {
	var zero T
	if err := validateQuery(c, load); err != nil {
		return zero, err
	}

	key := keyPrefix + id
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// 未预热：该策略不在请求路径上读数据库
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("xcache: get %s: %w", key, err)
	}

	v, expireAt, ok := decodeEnvelope[T](c, key, raw)
	if !ok {
		return zero, ErrNotFound
	}
	if time.Now().Before(expireAt) {
		return v, nil
	}

	// 已过期：返回旧值，并在拿到重建锁时异步刷新
	c.tryScheduleRebuild(ctx, key, id, rebuildFunc(c, key, id, load, ttl))
	return v, nil
}

// =============================================================================
// 内部实现
// =============================================================================

// validateQuery 校验公共入参。
func validateQuery[T any](c *Cache, load LoadFunc[T]) error {
	if c == nil {
		return ErrNilClient
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if load == nil {
		return ErrNilLoader
	}
	return nil
}

// lookup 查询缓存，返回 (value, done, error)。
// done 为 true 表示已有结论（真实命中或空值标记）；
// 存储错误与反序列化失败都按未命中处理，交由回源兜底。
func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logWarn("xcache: cache get failed, falling back to source", "key", key, "error", err)
		}
		return zero, false, nil
	}
	if raw == nullMarker {
		return zero, true, ErrNotFound
	}

	var v T
	if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
		// 无法解码的缓存值按不存在处理，触发回源重建
		c.logWarn("xcache: undecodable cache value, reloading", "key", key, "error", uerr)
		return zero, false, nil
	}
	return v, true, nil
}

// loadAndCache 回源加载并写回缓存。
// 回源失败不会留下任何缓存写入；写回失败不影响业务返回值。
func loadAndCache[T any](ctx context.Context, c *Cache, key, id string, load LoadFunc[T], ttl time.Duration) (T, error) {
	var zero T

	v, err := load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if nerr := c.setNull(ctx, key); nerr != nil {
				c.logWarn("xcache: null marker set failed", "key", key, "error", nerr)
			}
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	if serr := c.Set(ctx, key, v, ttl); serr != nil {
		c.logWarn("xcache: cache set failed", "key", key, "error", serr)
	}
	return v, nil
}

// mutexLoad 在分布式重建锁保护下回源。
func mutexLoad[T any](ctx context.Context, c *Cache, key, id string, load LoadFunc[T], ttl time.Duration) (T, error) {
	var zero T

	for attempt := 0; attempt < c.options.MaxRetryAttempts; attempt++ {
		// 每轮先重读缓存：锁持有者可能已完成重建
		if v, done, err := lookup[T](ctx, c, key); done {
			return v, err
		}

		handle, err := c.locks.TryLock(ctx, key, xdlock.WithExpiry(c.options.LockTTL))
		if err != nil {
			// 锁服务异常按未获取处理，退避后重试
			c.logWarn("xcache: acquire rebuild lock failed", "key", key, "error", err)
		}
		if handle != nil {
			// 拿到锁后二次检查，防止与上一个持有者的写入竞争
			if v, done, lerr := lookup[T](ctx, c, key); done {
				c.unlock(handle)
				return v, lerr
			}
			v, lerr := loadAndCache(ctx, c, key, id, load, ttl)
			c.unlock(handle)
			return v, lerr
		}

		wait := backoffWithJitter(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	// 重试耗尽：升级为阻塞式获取，回源必须在锁内进行
	handle, err := c.locks.Lock(ctx, key, xdlock.WithExpiry(c.options.LockTTL))
	if err != nil {
		if errors.Is(err, xdlock.ErrLockFailed) {
			return zero, fmt.Errorf("%w: key=%s", ErrLockContended, key)
		}
		return zero, err
	}

	// 等锁期间持有者可能已完成重建
	if v, done, lerr := lookup[T](ctx, c, key); done {
		c.unlock(handle)
		return v, lerr
	}
	v, lerr := loadAndCache(ctx, c, key, id, load, ttl)
	c.unlock(handle)
	return v, lerr
}

// decodeEnvelope 解码逻辑过期包装记录。
// 解码失败视为缓存不存在（ok=false）。
func decodeEnvelope[T any](c *Cache, key, raw string) (T, time.Time, bool) {
	var zero T

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Data) == 0 {
		c.logWarn("xcache: undecodable logical envelope", "key", key, "error", err)
		return zero, time.Time{}, false
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		c.logWarn("xcache: undecodable logical value", "key", key, "error", err)
		return zero, time.Time{}, false
	}
	return v, env.ExpireAt, true
}

// tryScheduleRebuild 尝试获取重建锁并提交后台重建任务。
// 未抢到锁（其他持有者正在重建）或队列已满时静默放弃。
func (c *Cache) tryScheduleRebuild(ctx context.Context, key, id string, task rebuildTask) {
	handle, err := c.locks.TryLock(ctx, key, xdlock.WithExpiry(c.options.LockTTL))
	if err != nil {
		c.logWarn("xcache: acquire rebuild lock failed", "key", key, "error", err)
		return
	}
	if handle == nil {
		return
	}

	submitted := c.pool.submit(func(taskCtx context.Context) {
		defer c.unlock(handle)
		task(taskCtx)
	})
	if !submitted {
		// 旧值已经返回给调用方，放弃本次重建，下一个读者会再次尝试
		c.unlock(handle)
		c.logWarn("xcache: rebuild pool saturated, rebuild skipped", "key", key)
	}
}

// rebuildFunc 构造一次逻辑过期重建任务。
func rebuildFunc[T any](c *Cache, key, id string, load LoadFunc[T], ttl time.Duration) rebuildTask {
	return func(ctx context.Context) {
		// 双重检查：锁竞争期间其他节点可能已刷新
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			if _, expireAt, ok := decodeEnvelope[T](c, key, raw); ok && time.Now().Before(expireAt) {
				return
			}
		}

		v, err := load(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			// 源中已删除，移除过期缓存，后续读取返回 ErrNotFound
			if derr := c.client.Del(ctx, key).Err(); derr != nil {
				c.logWarn("xcache: stale key delete failed", "key", key, "error", derr)
			}
		case err != nil:
			c.logWarn("xcache: rebuild load failed", "key", key, "error", err)
		default:
			if serr := c.SetLogical(ctx, key, v, ttl); serr != nil {
				c.logWarn("xcache: rebuild set failed", "key", key, "error", serr)
			}
		}
	}
}

// unlock 释放重建锁。
// 使用独立超时的 ctx，锁释放不受调用方取消影响。
func (c *Cache) unlock(handle xdlock.LockHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	if err := handle.Unlock(ctx); err != nil && !errors.Is(err, xdlock.ErrNotLocked) {
		c.logWarn("xcache: unlock failed", "key", handle.Key(), "error", err)
	}
}

// backoffWithJitter 计算带抖动的指数退避时间。
func backoffWithJitter(attempt int) time.Duration {
	const maxSafeShift = 30
	if attempt > maxSafeShift {
		attempt = maxSafeShift
	}

	backoff := baseBackoff << attempt
	if backoff <= 0 || backoff > maxBackoff {
		backoff = maxBackoff
	}

	jitter := time.Duration(float64(backoff) * jitterFraction * (randomFloat64() - 0.5))
	return backoff + jitter
}

// randomFloat64 返回 [0.0, 1.0) 范围内的随机浮点数。
func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53)
}
