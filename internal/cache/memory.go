package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is applied by callers that do not have a more specific policy.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a concurrency-safe in-process cache with lazy per-entry expiry.
// Stale entries are evicted on read; there is no background sweeper and no
// capacity bound, which is acceptable for TTL-limited response caching.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewMemoryWithClock constructs a cache with an injected clock for tests.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	if now != nil {
		m.now = now
	}
	return m
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}

	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}

	return e.value, true, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]entry)
	return nil
}

// Len reports the number of stored entries, including not-yet-evicted stale ones.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
