package cache

import (
	"context"
	"testing"
	"time"

	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/logger"
	"github.com/stretchr/testify/assert"
)

func newTestCache(enabled bool) *InMemoryCache {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Enabled = enabled
	return NewInMemoryCache(cfg, logger.NewNopLogger())
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(true)

	key := GenerateKey(PrefixUsageStats, "t1", 0)
	assert.Equal(t, "usage_stats:v1::t1:0", key)

	c.Set(ctx, key, 42, 0)
	v, ok := c.Get(ctx, key)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	c.Set(ctx, GenerateKey(PrefixRecommendation, "t1", 0), "upgrade", time.Minute)
	c.Set(ctx, GenerateKey(PrefixUsageStats, "t10", 0), 7, time.Minute)

	for _, prefix := range TenantKeys("t1") {
		c.DeleteByPrefix(ctx, prefix)
	}
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	_, ok = c.Get(ctx, GenerateKey(PrefixRecommendation, "t1", 0))
	assert.False(t, ok)
	_, ok = c.Get(ctx, GenerateKey(PrefixUsageStats, "t10", 0))
	assert.True(t, ok, "other tenants are untouched")

	c.Flush(ctx)
	assert.Zero(t, c.ItemCount())
}

func TestInMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(true)

	c.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInMemoryCacheDisabled(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(false)

	c.Set(ctx, "k", "v", time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.ItemCount())
}
