// Package ratelimit implements a sliding-window hit counter keyed by client.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu      sync.Mutex
	limits  map[string][]time.Time
	window  time.Duration
	maxHits int
	now     func() time.Time
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		limits:  make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

// Allow records a hit for key and reports whether it fits in the window.
// Rejected hits are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.validHits(key, now)

	if len(hits) >= l.maxHits {
		l.limits[key] = hits
		return false
	}

	l.limits[key] = append(hits, now)
	return true
}

// RetryAfter returns how long until key may be allowed again, zero if it is
// allowed now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.validHits(key, now)
	if len(hits) < l.maxHits || len(hits) == 0 {
		return 0
	}

	// The oldest hit that must expire before a slot frees up
	oldest := hits[len(hits)-l.maxHits]
	return oldest.Add(l.window).Sub(now)
}

// Prune drops keys with no hits inside the window.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.limits {
		if len(l.validHits(key, now)) == 0 {
			delete(l.limits, key)
			removed++
		}
	}
	return removed
}

// validHits must be called with the lock held
func (l *Limiter) validHits(key string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	hits := l.limits[key]
	valid := hits[:0]
	for _, hit := range hits {
		if hit.After(windowStart) {
			valid = append(valid, hit)
		}
	}
	l.limits[key] = valid
	return valid
}

// StartPruning prunes every interval until the returned stop func is called
func (l *Limiter) StartPruning(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
