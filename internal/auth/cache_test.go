package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(cfg CacheConfig) (*Cache, *time.Time) {
	c := NewCache(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.limiter = newRateLimiter(cfg.RateLimit)
	return c, &now
}

func TestCacheHitMissAndStats(t *testing.T) {
	c, _ := newTestCache(CacheConfig{TTL: time.Hour, MaxEntries: 10})

	_, ok := c.Lookup("AAA")
	assert.False(t, ok)

	c.Put("AAA", StatusAccepted)
	status, ok := c.Lookup("AAA")
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, status)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)
	assert.GreaterOrEqual(t, stats.HitRate, 0.0)
	assert.LessOrEqual(t, stats.HitRate, 100.0)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Greater(t, stats.MemoryUsageBytes, int64(0))
}

func TestCacheNeverStoresInvalid(t *testing.T) {
	c, _ := newTestCache(CacheConfig{})
	c.Put("BAD", StatusInvalid)
	_, ok := c.Lookup("BAD")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestCacheTTLExpiry(t *testing.T) {
	c, now := newTestCache(CacheConfig{TTL: time.Minute, MaxEntries: 10})
	c.Put("AAA", StatusBlocked)

	*now = now.Add(2 * time.Minute)
	_, ok := c.Lookup("AAA")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.ExpiredEntries)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestCacheLRUEviction(t *testing.T) {
	c, _ := newTestCache(CacheConfig{MaxEntries: 2, RateLimit: RateLimiterConfig{MaxRequests: 100}})
	c.Put("A", StatusAccepted)
	c.Put("B", StatusAccepted)

	// Touch A so B becomes least recently used.
	_, _ = c.Lookup("A")
	c.Put("C", StatusAccepted)

	_, okA := c.Lookup("A")
	_, okB := c.Lookup("B")
	_, okC := c.Lookup("C")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.LessOrEqual(t, stats.TotalEntries, 2)
}

func TestCacheRateLimitTreatedAsMiss(t *testing.T) {
	c, _ := newTestCache(CacheConfig{RateLimit: RateLimiterConfig{MaxRequests: 2, Window: time.Second}})
	c.Put("AAA", StatusAccepted)

	_, ok1 := c.Lookup("AAA")
	_, ok2 := c.Lookup("AAA")
	_, ok3 := c.Lookup("AAA") // third lookup in the window is blocked
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.RateLimit.BlockedRequests)
	assert.Equal(t, int64(3), stats.RateLimit.TotalChecks)
	assert.Equal(t, 1, stats.RateLimit.RateLimitedIdentifiers)
}
