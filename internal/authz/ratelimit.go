package authz

import (
	"sync"
	"time"
)

const (
	windowBurst = time.Second
	windowMin   = time.Minute
	windowHour  = time.Hour

	// Beyond this many live keys the limiter sweeps idle entries during
	// the next Allow call, keeping the table bounded without a timer
	// goroutine.
	sweepThreshold = 4096
)

// RateLimiter tracks request timestamps per key in sliding windows. It is
// the single-process reference behavior; clustered deployments must
// converge through a shared store instead.
type RateLimiter struct {
	mu      sync.Mutex
	samples map[string][]time.Time
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{samples: make(map[string][]time.Time)}
}

// Allow appends now to the key's window, prunes samples older than one
// hour, then evaluates each configured threshold. Any exceeded threshold
// denies.
func (l *RateLimiter) Allow(key string, limit RateLimit, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.samples[key], now)
	cutoff := now.Add(-windowHour)
	start := 0
	for start < len(window) && window[start].Before(cutoff) {
		start++
	}
	window = window[start:]
	l.samples[key] = window

	if len(l.samples) > sweepThreshold {
		l.sweepLocked(now)
	}

	if limit.Burst > 0 && countSince(window, now.Add(-windowBurst)) > limit.Burst {
		return false
	}
	if limit.PerMin > 0 && countSince(window, now.Add(-windowMin)) > limit.PerMin {
		return false
	}
	if limit.PerHour > 0 && len(window) > limit.PerHour {
		return false
	}
	return true
}

// AllowN is a fixed-threshold convenience for endpoint limiters (for
// example the shared 10 req/min budget on the auth endpoints).
func (l *RateLimiter) AllowN(key string, perMin int, now time.Time) bool {
	return l.Allow(key, RateLimit{PerMin: perMin}, now)
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-windowHour)
	for key, window := range l.samples {
		if len(window) == 0 || window[len(window)-1].Before(cutoff) {
			delete(l.samples, key)
		}
	}
}

func countSince(window []time.Time, cutoff time.Time) int {
	count := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}
