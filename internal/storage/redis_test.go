package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/config"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(testContext(t), config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 4,
	})
	require.NoError(t, err)
	defer cache.Close()

	assert.NoError(t, cache.Ping(testContext(t)))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := NewRedisCache(testContext(t), config.RedisConfig{Host: host, Port: port})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, mr := newTestRedis(t)
	ctx := testContext(t)

	_, found, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	got, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(got))

	mr.FastForward(2 * time.Minute)
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired key reads as a miss")
}

func TestRedisCache_Del(t *testing.T) {
	cache, mr := newTestRedis(t)
	ctx := testContext(t)

	require.NoError(t, cache.Del(ctx))
	require.NoError(t, mr.Set("a", "1"))
	require.NoError(t, mr.Set("b", "2"))

	require.NoError(t, cache.Del(ctx, "a", "b"))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestRedisCache_DelMatching(t *testing.T) {
	cache, mr := newTestRedis(t)
	ctx := testContext(t)

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set("snapshot:0xabc:"+time.Unix(int64(i), 0).UTC().Format(time.RFC3339), "x"))
	}
	require.NoError(t, mr.Set("snapshot:0xdef:latest", "y"))

	n, err := cache.DelMatching(ctx, "snapshot:0xabc:*")
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.True(t, mr.Exists("snapshot:0xdef:latest"))
	assert.Len(t, mr.Keys(), 1)
}
