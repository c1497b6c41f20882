package xcache_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
	"github.com/omeyang/hotkit/pkg/storage/xcache"
)

const shopPrefix = "cache:shop:"

// countingLoader 返回固定结果并统计调用次数的回源函数。
func countingLoader(calls *atomic.Int64, result shop, err error) xcache.LoadFunc[shop] {
	return func(ctx context.Context, id string) (shop, error) {
		calls.Add(1)
		return result, err
	}
}

// =============================================================================
// QueryWithPassthrough
// =============================================================================

func TestQueryWithPassthrough_OnMiss_LoadsAndCaches(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7, Name: "coffee"}, nil)

	// When
	first, err := xcache.QueryWithPassthrough(ctx, cache, shopPrefix, "7", load, time.Minute)

	// Then
	require.NoError(t, err)
	assert.Equal(t, shop{ID: 7, Name: "coffee"}, first)
	assert.True(t, mr.Exists("cache:shop:7"))

	// 第二次命中缓存，不再回源
	second, err := xcache.QueryWithPassthrough(ctx, cache, shopPrefix, "7", load, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestQueryWithPassthrough_WhenSourceMissing_CachesNullMarker(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	load := countingLoader(&calls, shop{}, xcache.ErrNotFound)

	// When
	_, err := xcache.QueryWithPassthrough(ctx, cache, shopPrefix, "404", load, time.Minute)

	// Then
	assert.ErrorIs(t, err, xcache.ErrNotFound)
	raw, gerr := mr.Get("cache:shop:404")
	require.NoError(t, gerr)
	assert.Empty(t, raw)

	// 空值标记命中后不再触达回源
	_, err = xcache.QueryWithPassthrough(ctx, cache, shopPrefix, "404", load, time.Minute)
	assert.ErrorIs(t, err, xcache.ErrNotFound)
	assert.Equal(t, int64(1), calls.Load())
}

func TestQueryWithPassthrough_WhenSourceFails_ReturnsSourceUnavailable(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	load := countingLoader(&calls, shop{}, errors.New("connection refused"))

	// When
	_, err := xcache.QueryWithPassthrough(ctx, cache, shopPrefix, "7", load, time.Minute)

	// Then: 源故障不留下任何缓存写入
	assert.ErrorIs(t, err, xcache.ErrSourceUnavailable)
	assert.False(t, mr.Exists("cache:shop:7"))
}

func TestQueryWithPassthrough_WithNilLoader_ReturnsError(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := xcache.QueryWithPassthrough[shop](context.Background(), cache, shopPrefix, "7", nil, time.Minute)
	assert.ErrorIs(t, err, xcache.ErrNilLoader)
}

// =============================================================================
// QueryWithMutex
// =============================================================================

func TestQueryWithMutex_UnderConcurrency_LoadsOnce(t *testing.T) {
	// Given
	cache, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	load := func(ctx context.Context, id string) (shop, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond) // 放大未命中窗口
		n, _ := strconv.ParseInt(id, 10, 64)
		return shop{ID: n, Name: "coffee"}, nil
	}

	// When: 同一 key 上的并发未命中
	const goroutines = 16
	results := make([]shop, goroutines)
	errs := make([]error, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = xcache.QueryWithMutex(ctx, cache, shopPrefix, "7", load, time.Minute)
		}(i)
	}
	wg.Wait()

	// Then: 回源恰好一次，所有调用方拿到同一个值
	assert.Equal(t, int64(1), calls.Load())
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, shop{ID: 7, Name: "coffee"}, results[i])
	}
}

func TestQueryWithMutex_WhenLockHolderFills_ReadsFromCache(t *testing.T) {
	// Given: 锁被外部持有者占用
	cache, mr := newTestCache(t, xcache.WithMaxRetryAttempts(5))
	ctx := context.Background()
	require.NoError(t, mr.Set("lock:cache:shop:7", "other-holder"))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7, Name: "from-source"}, nil)

	// 模拟持有者在退避窗口内完成重建
	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = cache.Set(context.Background(), "cache:shop:7", shop{ID: 7, Name: "from-holder"}, time.Minute)
	}()

	// When
	got, err := xcache.QueryWithMutex(ctx, cache, shopPrefix, "7", load, time.Minute)

	// Then: 退避重读拿到持有者写入的值，自己未回源
	require.NoError(t, err)
	assert.Equal(t, shop{ID: 7, Name: "from-holder"}, got)
	assert.Equal(t, int64(0), calls.Load())
}

func TestQueryWithMutex_WhenLockHeldPastRetries_NeverLoadsWithoutLock(t *testing.T) {
	// Given: 锁被外部持有者占用，重试预算仅一轮
	cache, mr := newTestCache(t, xcache.WithMaxRetryAttempts(1))
	ctx := context.Background()
	require.NoError(t, mr.Set("lock:cache:shop:7", "other-holder"))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7, Name: "from-source"}, nil)

	// 持有者完成重建并释放锁
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = cache.Set(context.Background(), "cache:shop:7", shop{ID: 7, Name: "from-holder"}, time.Minute)
		mr.Del("lock:cache:shop:7")
	}()

	// When
	got, err := xcache.QueryWithMutex(ctx, cache, shopPrefix, "7", load, time.Minute)

	// Then: 重试耗尽后阻塞等锁，锁内二次检查命中持有者写入的值，
	// 全程未在无锁状态下回源
	require.NoError(t, err)
	assert.Equal(t, shop{ID: 7, Name: "from-holder"}, got)
	assert.Equal(t, int64(0), calls.Load())
}

// contendedLocks 所有获取都失败的锁工厂。
type contendedLocks struct{}

func (contendedLocks) TryLock(context.Context, string, ...xdlock.MutexOption) (xdlock.LockHandle, error) {
	return nil, nil
}

func (contendedLocks) Lock(context.Context, string, ...xdlock.MutexOption) (xdlock.LockHandle, error) {
	return nil, xdlock.ErrLockFailed
}

func (contendedLocks) Close() error { return nil }

func TestQueryWithMutex_WhenLockNeverAvailable_ReturnsLockContended(t *testing.T) {
	// Given: 锁始终不可得
	cache, _ := newTestCache(t,
		xcache.WithMaxRetryAttempts(1),
		xcache.WithLockFactory(contendedLocks{}))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7, Name: "coffee"}, nil)

	// When
	_, err := xcache.QueryWithMutex(context.Background(), cache, shopPrefix, "7", load, time.Minute)

	// Then: 拿不到锁就不回源
	assert.ErrorIs(t, err, xcache.ErrLockContended)
	assert.Equal(t, int64(0), calls.Load())
}

func TestQueryWithMutex_OnHit_SkipsLocking(t *testing.T) {
	// Given
	cache, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "cache:shop:7", shop{ID: 7, Name: "coffee"}, time.Minute))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{}, nil)

	// When
	got, err := xcache.QueryWithMutex(ctx, cache, shopPrefix, "7", load, time.Minute)

	// Then
	require.NoError(t, err)
	assert.Equal(t, shop{ID: 7, Name: "coffee"}, got)
	assert.Equal(t, int64(0), calls.Load())
}

// =============================================================================
// QueryWithLogicalExpiry
// =============================================================================

func TestQueryWithLogicalExpiry_WhenNotPrewarmed_ReturnsNotFound(t *testing.T) {
	// Given
	cache, _ := newTestCache(t)
	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7}, nil)

	// When
	_, err := xcache.QueryWithLogicalExpiry(context.Background(), cache, shopPrefix, "7", load, time.Hour)

	// Then: 请求路径上不回源
	assert.ErrorIs(t, err, xcache.ErrNotFound)
	assert.Equal(t, int64(0), calls.Load())
}

func TestQueryWithLogicalExpiry_WhenFresh_ReturnsCachedValue(t *testing.T) {
	// Given
	cache, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.SetLogical(ctx, "cache:shop:7", shop{ID: 7, Name: "coffee"}, time.Hour))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{}, nil)

	// When
	got, err := xcache.QueryWithLogicalExpiry(ctx, cache, shopPrefix, "7", load, time.Hour)

	// Then
	require.NoError(t, err)
	assert.Equal(t, shop{ID: 7, Name: "coffee"}, got)
	assert.Equal(t, int64(0), calls.Load())
}

func TestQueryWithLogicalExpiry_WhenStale_ReturnsStaleAndRebuildsOnce(t *testing.T) {
	// Given: 预热一条已逻辑过期的记录
	cache, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.SetLogical(ctx, "cache:shop:7", shop{ID: 7, Name: "stale"}, -time.Second))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{ID: 7, Name: "fresh"}, nil)

	// When: 过期记录上的并发读
	const goroutines = 8
	results := make([]shop, goroutines)
	errs := make([]error, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = xcache.QueryWithLogicalExpiry(ctx, cache, shopPrefix, "7", load, time.Hour)
		}(i)
	}
	wg.Wait()

	// Then: 所有调用方立即拿到旧值
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, shop{ID: 7, Name: "stale"}, results[i])
	}

	// 后台至多重建一次，缓存最终刷新
	require.Eventually(t, func() bool {
		got, err := xcache.QueryWithLogicalExpiry(ctx, cache, shopPrefix, "7", load, time.Hour)
		return err == nil && got.Name == "fresh"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestQueryWithLogicalExpiry_WhenSourceDeleted_EvictsStaleKey(t *testing.T) {
	// Given: 记录已过期且源中已删除
	cache, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.SetLogical(ctx, "cache:shop:7", shop{ID: 7, Name: "stale"}, -time.Second))

	var calls atomic.Int64
	load := countingLoader(&calls, shop{}, xcache.ErrNotFound)

	// When: 本次仍返回旧值
	got, err := xcache.QueryWithLogicalExpiry(ctx, cache, shopPrefix, "7", load, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "stale", got.Name)

	// Then: 后台重建发现源中不存在，移除缓存
	require.Eventually(t, func() bool {
		return !mr.Exists("cache:shop:7")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueryWithLogicalExpiry_WithUndecodableEnvelope_ReturnsNotFound(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("cache:shop:7", "not-json"))

	// When
	_, err := xcache.QueryWithLogicalExpiry(context.Background(), cache, shopPrefix, "7",
		countingLoader(new(atomic.Int64), shop{}, nil), time.Hour)

	// Then
	assert.ErrorIs(t, err, xcache.ErrNotFound)
}

func TestQueryWithMutex_HoldsRebuildLockDuringLoad(t *testing.T) {
	// 重建锁 key 由锁前缀与缓存 key 拼接而成
	cache, mr := newTestCache(t, xcache.WithMaxRetryAttempts(1))
	ctx := context.Background()

	var entered atomic.Bool
	load := func(ctx context.Context, id string) (shop, error) {
		entered.Store(true)
		keys := mr.Keys()
		found := false
		for _, k := range keys {
			if strings.HasPrefix(k, "lock:cache:shop:") {
				found = true
			}
		}
		assert.True(t, found, "rebuild lock should be held during load")
		return shop{ID: 7}, nil
	}

	_, err := xcache.QueryWithMutex(ctx, cache, shopPrefix, "7", load, time.Minute)
	require.NoError(t, err)
	assert.True(t, entered.Load())
}
