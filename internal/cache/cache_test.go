package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanKeyStable(t *testing.T) {
	a := PlanKey("normal-16", "temperate-base", "harbor", 1337, "sha1:0", "normal")
	b := PlanKey("normal-16", "temperate-base", "harbor", 1337, "sha1:0", "normal")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "shard:plan:")

	assert.NotEqual(t, a, PlanKey("normal-16", "temperate-base", "harbor", 1338, "sha1:0", "normal"))
	assert.NotEqual(t, a, PlanKey("normal-16", "temperate-base", "harbor", 1337, "sha1:0", "full"))
	assert.NotEqual(t, PlanKey("a", "b", "c", 1, "", ""), PlanKey("a", "bc", "", 1, "", ""))
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(CacheConfig{DefaultTTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "k", []byte("plan"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("plan"), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.InDelta(t, 1.0/3, m.HitRatio, 1e-9)
}

func TestMemoryCacheEviction(t *testing.T) {
	c := NewMemoryCache(CacheConfig{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)

	assert.ErrorIs(t, c.Set(ctx, "", nil, 0), ErrInvalidKey)

	require.NoError(t, c.Purge(ctx))
	_, err = c.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Zero(t, c.GetMetrics().TotalKeys)
}

func TestNewBackends(t *testing.T) {
	c, err := New(CacheConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	_, err = New(CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}
