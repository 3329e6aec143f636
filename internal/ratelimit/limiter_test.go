package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	t.Parallel()

	current := time.Unix(1000, 0)
	l := NewWithClock(3, time.Minute, func() time.Time { return current })

	for i := 0; i < 3; i++ {
		if !l.IsAllowed("client") {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	if l.IsAllowed("client") {
		t.Fatal("call beyond the window budget should be denied")
	}

	// After the window elapses the next call starts a fresh count of 1.
	current = current.Add(61 * time.Second)

	if !l.IsAllowed("client") {
		t.Fatal("expected a fresh window after reset")
	}
	if !l.IsAllowed("client") {
		t.Fatal("second call of the fresh window should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(1, time.Minute)

	if !l.IsAllowed("a") {
		t.Fatal("first call for a should be allowed")
	}
	if l.IsAllowed("a") {
		t.Fatal("second call for a should be denied")
	}
	if !l.IsAllowed("b") {
		t.Fatal("b must not be affected by a's window")
	}
}

func TestLimiterRetryAfter(t *testing.T) {
	t.Parallel()

	current := time.Unix(1000, 0)
	l := NewWithClock(1, time.Minute, func() time.Time { return current })

	if got := l.RetryAfter("client"); got != 0 {
		t.Fatalf("expected zero retry-after before any window, got %v", got)
	}

	l.IsAllowed("client")

	current = current.Add(20 * time.Second)
	if got := l.RetryAfter("client"); got != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %v", got)
	}

	current = current.Add(50 * time.Second)
	if got := l.RetryAfter("client"); got != 0 {
		t.Fatalf("expected zero retry-after past reset, got %v", got)
	}
}

func TestLimiterDefaults(t *testing.T) {
	t.Parallel()

	l := New(0, 0)
	if l.max != DefaultMaxRequests || l.span != DefaultWindow {
		t.Fatalf("expected defaults, got max=%d span=%v", l.max, l.span)
	}
}

func TestLimiterConcurrentCounts(t *testing.T) {
	t.Parallel()

	const attempts = 100
	l := New(attempts/2, time.Minute)

	var wg sync.WaitGroup
	allowed := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.IsAllowed("shared")
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}

	if granted != attempts/2 {
		t.Fatalf("expected exactly %d grants, got %d", attempts/2, granted)
	}
}
