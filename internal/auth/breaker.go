package auth

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit state guarding the remote Authorize path.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrBreakerOpen short-circuits remote authorization while the backend is
// considered down, letting the chain fall through to the offline fallback
// without burning a full request deadline.
var ErrBreakerOpen = errors.New("remote authorization circuit open")

// BreakerConfig tunes the remote-auth circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures int           // trip threshold, default 3
	OpenTimeout         time.Duration // open -> half-open, default 30s
	HalfOpenProbes      int           // successes needed to close, default 1
}

// Breaker is a minimal consecutive-failure circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a request may proceed right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
	}
	return nil
}

// Record feeds the outcome of one request back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case BreakerHalfOpen:
			b.probes++
			if b.probes >= b.cfg.HalfOpenProbes {
				b.state = BreakerClosed
				b.failures = 0
			}
		default:
			b.failures = 0
		}
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.trip()
	default:
		b.failures++
		if b.failures >= b.cfg.ConsecutiveFailures {
			b.trip()
		}
	}
}

// State returns the current state, applying the open timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
}
