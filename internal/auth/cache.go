package auth

import (
	"container/list"
	"sync"
	"time"
)

// CacheConfig tunes the in-memory authorization cache.
type CacheConfig struct {
	TTL        time.Duration // default 3600s
	MaxEntries int           // LRU evict on insert over capacity, default 1000
	RateLimit  RateLimiterConfig
}

// CacheStats is the observable state of the cache.
type CacheStats struct {
	Hits             int64          `json:"hits"`
	Misses           int64          `json:"misses"`
	HitRate          float64        `json:"hitRate"` // percent, 0..100
	Evictions        int64          `json:"evictions"`
	ExpiredEntries   int64          `json:"expiredEntries"`
	TotalEntries     int            `json:"totalEntries"`
	MemoryUsageBytes int64          `json:"memoryUsageBytes"`
	RateLimit        RateLimitStats `json:"rateLimit"`
}

type cacheEntry struct {
	identifier string
	result     Status
	expiresAt  time.Time
	lastAccess time.Time
	elem       *list.Element
}

// Cache is the process-wide authorization cache: TTL expiry, LRU eviction at
// capacity, and a per-identifier sliding-window rate limit on lookups.
// Only Accepted, Blocked and Expired results are cached; Invalid never is.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently used
	cfg     CacheConfig
	limiter *rateLimiter

	hits      int64
	misses    int64
	evictions int64
	expired   int64

	now func() time.Time
}

// NewCache builds a cache with the given config, filling in defaults.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimit),
		now:     time.Now,
	}
}

// Lookup returns the cached status for identifier. The second return is
// false on a miss; a rate-limited lookup also reports false so the caller
// falls through to the next strategy.
func (c *Cache) Lookup(identifier string) (Status, bool) {
	now := c.now()
	if !c.limiter.allow(identifier, now) {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identifier]
	if !ok {
		c.misses++
		return "", false
	}
	if now.After(entry.expiresAt) {
		c.removeLocked(entry)
		c.expired++
		c.misses++
		return "", false
	}
	entry.lastAccess = now
	c.lru.MoveToFront(entry.elem)
	c.hits++
	return entry.result, true
}

// Put stores a cacheable result; Invalid results are ignored. Inserting over
// capacity evicts the least recently used entry.
func (c *Cache) Put(identifier string, result Status) {
	if result == StatusInvalid {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[identifier]; ok {
		entry.result = result
		entry.expiresAt = now.Add(c.cfg.TTL)
		entry.lastAccess = now
		c.lru.MoveToFront(entry.elem)
		return
	}

	if len(c.entries) >= c.cfg.MaxEntries {
		if back := c.lru.Back(); back != nil {
			c.removeLocked(back.Value.(*cacheEntry))
			c.evictions++
		}
	}

	entry := &cacheEntry{
		identifier: identifier,
		result:     result,
		expiresAt:  now.Add(c.cfg.TTL),
		lastAccess: now,
	}
	entry.elem = c.lru.PushFront(entry)
	c.entries[identifier] = entry
}

// Delete drops one identifier.
func (c *Cache) Delete(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[identifier]; ok {
		c.removeLocked(entry)
	}
}

// Clear empties the cache and the rate-limit windows; counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
	c.mu.Unlock()
	c.limiter.cleanup(c.now().Add(24 * time.Hour))
}

// Cleanup drops expired entries and stale rate windows.
func (c *Cache) Cleanup() {
	now := c.now()
	c.mu.Lock()
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(entry)
			c.expired++
		}
	}
	c.mu.Unlock()
	c.limiter.cleanup(now)
}

// Stats snapshots the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	stats := CacheStats{
		Hits:           hits,
		Misses:         misses,
		Evictions:      c.evictions,
		ExpiredEntries: c.expired,
		TotalEntries:   len(c.entries),
	}
	// Rough accounting: identifier + fixed entry overhead.
	for id := range c.entries {
		stats.MemoryUsageBytes += int64(len(id)) + 64
	}
	c.mu.Unlock()

	if total := hits + misses; total > 0 {
		stats.HitRate = 100 * float64(hits) / float64(total)
	}
	stats.RateLimit = c.limiter.stats(c.now())
	return stats
}

func (c *Cache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.identifier)
	c.lru.Remove(entry.elem)
}
