package xcache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/hotkit/pkg/storage/xcache"
)

// shop 测试用业务实体。
type shop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// newTestCache 创建指向 miniredis 的 Cache。
func newTestCache(t *testing.T, opts ...xcache.Option) (*xcache.Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache, err := xcache.New(client, append([]xcache.Option{xcache.WithLogger(nil)}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cache.Close()
		_ = client.Close()
		mr.Close()
	})
	return cache, mr
}

func TestNew_WithNilClient_ReturnsError(t *testing.T) {
	_, err := xcache.New(nil)
	assert.ErrorIs(t, err, xcache.ErrNilClient)
}

func TestSet_WritesJSONWithPhysicalTTL(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()

	// When
	err := cache.Set(ctx, "cache:shop:7", shop{ID: 7, Name: "coffee"}, time.Minute)

	// Then
	require.NoError(t, err)
	raw, err := mr.Get("cache:shop:7")
	require.NoError(t, err)

	var got shop
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, shop{ID: 7, Name: "coffee"}, got)
	assert.Greater(t, mr.TTL("cache:shop:7"), time.Duration(0))
}

func TestSetLogical_WritesEnvelopeWithoutPhysicalTTL(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()

	// When
	err := cache.SetLogical(ctx, "cache:shop:7", shop{ID: 7, Name: "coffee"}, time.Hour)

	// Then
	require.NoError(t, err)
	raw, err := mr.Get("cache:shop:7")
	require.NoError(t, err)

	var env struct {
		Data     json.RawMessage `json:"data"`
		ExpireAt time.Time       `json:"expireAt"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.True(t, env.ExpireAt.After(time.Now()))
	assert.Equal(t, time.Duration(0), mr.TTL("cache:shop:7"))

	var got shop
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, shop{ID: 7, Name: "coffee"}, got)
}

func TestDelete_RemovesKey(t *testing.T) {
	// Given
	cache, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "cache:shop:7", shop{ID: 7}, time.Minute))

	// When
	err := cache.Delete(ctx, "cache:shop:7")

	// Then
	require.NoError(t, err)
	assert.False(t, mr.Exists("cache:shop:7"))
}

func TestCache_AfterClose_RejectsOperations(t *testing.T) {
	// Given
	cache, _ := newTestCache(t)
	require.NoError(t, cache.Close())

	// When / Then
	err := cache.Set(context.Background(), "cache:shop:7", shop{ID: 7}, time.Minute)
	assert.ErrorIs(t, err, xcache.ErrClosed)

	_, err = xcache.QueryWithPassthrough(context.Background(), cache, "cache:shop:", "7",
		func(ctx context.Context, id string) (shop, error) { return shop{}, nil }, time.Minute)
	assert.ErrorIs(t, err, xcache.ErrClosed)

	assert.ErrorIs(t, cache.Close(), xcache.ErrClosed)
}
