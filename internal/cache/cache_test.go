package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute))
		val, err := cache.Get(ctx, tenantID, "key1")
		require.NoError(t, err)
		assert.Equal(t, "value1", string(val))
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)
		require.NoError(t, cache.Delete(ctx, tenantID, "key2"))
		val, _ := cache.Get(ctx, tenantID, "key2")
		assert.Nil(t, val)
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		clocked := NewLRUCache(10, time.Minute)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)
		val, _ := clocked.Get(ctx, tenantID, "expiring")
		assert.NotNil(t, val)

		now = now.Add(11 * time.Second)
		val, _ = clocked.Get(ctx, tenantID, "expiring")
		assert.Nil(t, val)

		size, _ := clocked.Stats()
		assert.Zero(t, size, "expired entry is evicted on read")
	})

	t.Run("DefaultTTL", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		clocked := NewLRUCache(10, time.Minute)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "k", []byte("v"), 0)
		now = now.Add(59 * time.Second)
		val, _ := clocked.Get(ctx, tenantID, "k")
		assert.NotNil(t, val)

		now = now.Add(2 * time.Second)
		val, _ = clocked.Get(ctx, tenantID, "k")
		assert.Nil(t, val)
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3, time.Minute)
		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		_, _ = small.Get(ctx, tenantID, "a")
		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := small.Get(ctx, tenantID, "b")
		assert.Nil(t, val, "least recently used entry is evicted")
		val, _ = small.Get(ctx, tenantID, "a")
		assert.NotNil(t, val)
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		c := NewLRUCache(100, time.Minute)
		_ = c.Set(ctx, tenantID, "scores:ps-1:*:2025-06-01", []byte("a"), time.Minute)
		_ = c.Set(ctx, tenantID, "scores:ps-1:b1:2025-06-01", []byte("b"), time.Minute)
		_ = c.Set(ctx, tenantID, "scores:ps-2:*:2025-06-01", []byte("c"), time.Minute)
		_ = c.Set(ctx, "tenant-002", "scores:ps-1:*:2025-06-01", []byte("d"), time.Minute)

		require.NoError(t, c.DeletePrefix(ctx, tenantID, "scores:ps-1:"))

		val, _ := c.Get(ctx, tenantID, "scores:ps-1:*:2025-06-01")
		assert.Nil(t, val)
		val, _ = c.Get(ctx, tenantID, "scores:ps-1:b1:2025-06-01")
		assert.Nil(t, val)
		val, _ = c.Get(ctx, tenantID, "scores:ps-2:*:2025-06-01")
		assert.NotNil(t, val)
		val, _ = c.Get(ctx, "tenant-002", "scores:ps-1:*:2025-06-01")
		assert.NotNil(t, val, "other tenants are untouched")
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")
		assert.Equal(t, "tenant1-value", string(val1))
		assert.Equal(t, "tenant2-value", string(val2))
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		assert.Error(t, cache.Set(ctx, "", "key", []byte("value"), time.Minute))
		_, err := cache.Get(ctx, "", "key")
		assert.Error(t, err)
		assert.Error(t, cache.DeletePrefix(ctx, "", "scores:"))
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50, time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		assert.Equal(t, 2, size)
		assert.Equal(t, 50, capacity)
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10, time.Minute)
		_ = c.Set(ctx, tenantID, "k", []byte("v"), time.Minute)
		require.NoError(t, c.Close())
		val, _ := c.Get(ctx, tenantID, "k")
		assert.Nil(t, val)
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("L2HitPopulatesL1", func(t *testing.T) {
		l2 := NewLRUCache(100, time.Hour)
		c := newTwoPhase(NewLRUCache(100, time.Minute), l2, time.Minute)

		_ = l2.Set(ctx, tenantID, "k", []byte("from-l2"), time.Hour)
		val, err := c.Get(ctx, tenantID, "k")
		require.NoError(t, err)
		assert.Equal(t, "from-l2", string(val))

		size, _ := c.Stats()
		assert.Equal(t, 1, size)
	})

	t.Run("WritesAndDeletesBothLayers", func(t *testing.T) {
		l1 := NewLRUCache(100, time.Minute)
		l2 := NewLRUCache(100, time.Hour)
		c := newTwoPhase(l1, l2, time.Minute)

		require.NoError(t, c.Set(ctx, tenantID, "scores:a", []byte("1"), time.Hour))
		require.NoError(t, c.Set(ctx, tenantID, "scores:b", []byte("2"), time.Hour))
		for _, layer := range []*LRUCache{l1, l2} {
			val, _ := layer.Get(ctx, tenantID, "scores:a")
			assert.Equal(t, "1", string(val))
		}

		require.NoError(t, c.Delete(ctx, tenantID, "scores:a"))
		require.NoError(t, c.DeletePrefix(ctx, tenantID, "scores:"))
		for _, layer := range []*LRUCache{l1, l2} {
			size, _ := layer.Stats()
			assert.Zero(t, size)
		}
		require.NoError(t, c.Ping(ctx))
		require.NoError(t, c.Close())
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		require.NoError(t, err)
		defer c.Close()
		assert.IsType(t, &LRUCache{}, c)
	})

	t.Run("NoneType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "none"})
		require.NoError(t, err)
		require.NoError(t, c.Set(context.Background(), "t", "k", []byte("v"), time.Minute))
		val, err := c.Get(context.Background(), "t", "k")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		assert.Error(t, err)
	})
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `scores:ps-1:\*:`, escapeGlob("scores:ps-1:*:"))
	assert.Equal(t, `a\?b\[c\]\\`, escapeGlob(`a?b[c]\`))
	assert.Equal(t, "kestrel:t1:scores:", redisKey("t1", "scores:"))
}

// TestRedisCache runs against a live server when KESTREL_TEST_REDIS_ADDR is set.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("KESTREL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KESTREL_TEST_REDIS_ADDR not set")
	}
	c, err := NewRedisCache(addr, "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	tenantID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	require.NoError(t, c.Set(ctx, tenantID, "scores:ps-1:*:d", []byte("x"), time.Minute))
	val, err := c.Get(ctx, tenantID, "scores:ps-1:*:d")
	require.NoError(t, err)
	assert.Equal(t, "x", string(val))

	require.NoError(t, c.DeletePrefix(ctx, tenantID, "scores:ps-1:"))
	val, err = c.Get(ctx, tenantID, "scores:ps-1:*:d")
	require.NoError(t, err)
	assert.Nil(t, val)
}
