// Package ratelimit implements a fixed-window request counter keyed by client
// identifier. It shields the quota-limited Gemini API: callers that exceed the
// window budget are routed to the local fallback analyzer instead of being
// rejected outright. Fixed windows accept burstiness at window boundaries in
// exchange for O(1) state per key.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxRequests matches the Gemini free-tier budget the service is
	// tuned for.
	DefaultMaxRequests = 8
	// DefaultWindow is the span of one counting window.
	DefaultWindow = time.Minute
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key within fixed windows. All methods are safe
// for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	max     int
	span    time.Duration
	windows map[string]*window
	now     func() time.Time
}

// New constructs a limiter allowing max requests per window span. Non-positive
// arguments fall back to the defaults.
func New(max int, span time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if span <= 0 {
		span = DefaultWindow
	}
	return &Limiter{
		max:     max,
		span:    span,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// NewWithClock constructs a limiter with an injected clock for tests.
func NewWithClock(max int, span time.Duration, now func() time.Time) *Limiter {
	l := New(max, span)
	if now != nil {
		l.now = now
	}
	return l
}

// IsAllowed reports whether a request for key fits the current window. The
// first call for a key, or the first call after the window elapsed, starts a
// fresh window with a count of 1.
func (l *Limiter) IsAllowed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.span)}
		return true
	}

	if w.count >= l.max {
		return false
	}

	w.count++
	return true
}

// RetryAfter returns the time remaining until the window for key resets, or
// zero when no window is active.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return 0
	}

	remaining := w.resetAt.Sub(l.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
