// Package ratelimit throttles inbound connection events with fixed
// windows: the count resets at window boundaries rather than sliding.
package ratelimit

import (
	"sync"
	"time"
)

type key struct {
	userID string
	kind   string
}

type window struct {
	start time.Time
	count int
}

// Decision is the outcome of one Allow call. When denied, RetryAfter is
// always the full configured window, not the remaining time-in-window.
// That is intentional and observable; clients depend on it.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter keeps one fixed window per (user, event kind) pair. Counters for
// different kinds are independent. Safe for concurrent use; windows are
// created lazily and evicted once stale so churn cannot grow the map
// forever.
type Limiter struct {
	mu      sync.Mutex
	windows map[key]*window
	window  time.Duration
	limit   int
	now     func() time.Time
}

func NewLimiter(windowDuration time.Duration, limit int) *Limiter {
	return &Limiter{
		windows: make(map[key]*window),
		window:  windowDuration,
		limit:   limit,
		now:     time.Now,
	}
}

// Allow decides whether one event of the given kind may proceed.
// First event of a key opens a window with count=1. A window older than
// the configured duration is reset. At the limit the event is denied and
// must be dropped before any side effect occurs.
func (l *Limiter) Allow(userID, kind string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{userID: userID, kind: kind}

	w, ok := l.windows[k]
	if !ok || now.Sub(w.start) > l.window {
		l.windows[k] = &window{start: now, count: 1}
		return Decision{Allowed: true}
	}
	if w.count >= l.limit {
		return Decision{Allowed: false, RetryAfter: l.window}
	}
	w.count++
	return Decision{Allowed: true}
}

// Evict drops windows that expired at least a full window ago and returns
// how many were removed. Called periodically by the janitor worker.
func (l *Limiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for k, w := range l.windows {
		if now.Sub(w.start) > 2*l.window {
			delete(l.windows, k)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live windows, for telemetry.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
