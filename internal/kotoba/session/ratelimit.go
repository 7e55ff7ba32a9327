package session

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of messages an identity may send per
	// window when no limit is configured.
	DefaultRateLimit = 20

	defaultRateWindow = time.Minute
)

// RateLimiter enforces a per-key sliding-window limit. It keeps at most
// limit timestamps per key and prunes stale ones on every call.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time
}

// NewRateLimiter returns a limiter allowing limit calls per window. A
// non-positive limit selects DefaultRateLimit; a non-positive window one
// minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)
	if len(valid) >= r.limit {
		r.counters[key] = valid
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns how many more calls key may make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.limit-len(r.prune(key, r.now())), 0)
}

// SetLimit changes the allowance for every key. A non-positive limit is
// ignored.
func (r *RateLimiter) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	r.mu.Lock()
	r.limit = limit
	r.mu.Unlock()
}

// Forget drops key's history, e.g. when its session is evicted.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, key)
}

func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.counters, key)
	}
	return valid
}
