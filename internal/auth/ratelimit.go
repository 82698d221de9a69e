package auth

import (
	"sync"
	"time"
)

// RateLimiterConfig bounds how often a single identifier may be looked up.
type RateLimiterConfig struct {
	MaxRequests int           // per window, default 3
	Window      time.Duration // default 1s
}

// RateLimitStats mirrors the cache statistics contract.
type RateLimitStats struct {
	TotalChecks            int64 `json:"totalChecks"`
	BlockedRequests        int64 `json:"blockedRequests"`
	RateLimitedIdentifiers int   `json:"rateLimitedIdentifiers"`
}

type rateWindow struct {
	count       int
	windowStart time.Time
}

// rateLimiter is a per-identifier sliding window. Expired windows are
// garbage-collected on access and by the owning cache's cleanup pass.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	cfg     RateLimiterConfig

	totalChecks     int64
	blockedRequests int64
}

func newRateLimiter(cfg RateLimiterConfig) *rateLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &rateLimiter{
		windows: make(map[string]*rateWindow),
		cfg:     cfg,
	}
}

// allow reports whether identifier is within its window budget.
func (rl *rateLimiter) allow(identifier string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.totalChecks++
	w, ok := rl.windows[identifier]
	if !ok || now.Sub(w.windowStart) > rl.cfg.Window {
		rl.windows[identifier] = &rateWindow{count: 1, windowStart: now}
		return true
	}
	w.count++
	if w.count > rl.cfg.MaxRequests {
		rl.blockedRequests++
		return false
	}
	return true
}

func (rl *rateLimiter) stats(now time.Time) RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limited := 0
	for _, w := range rl.windows {
		if now.Sub(w.windowStart) <= rl.cfg.Window && w.count > rl.cfg.MaxRequests {
			limited++
		}
	}
	return RateLimitStats{
		TotalChecks:            rl.totalChecks,
		BlockedRequests:        rl.blockedRequests,
		RateLimitedIdentifiers: limited,
	}
}

func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, w := range rl.windows {
		if now.Sub(w.windowStart) > 2*rl.cfg.Window {
			delete(rl.windows, id)
		}
	}
}
