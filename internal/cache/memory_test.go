package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemorySetGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || value != "v" {
		t.Fatalf("expected hit with %q, got ok=%v value=%q", "v", ok, value)
	}
}

func TestMemoryOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", "old", time.Minute)
	m.Set(ctx, "k", "new", time.Minute)

	value, ok, _ := m.Get(ctx, "k")
	if !ok || value != "new" {
		t.Fatalf("expected overwritten value, got ok=%v value=%q", ok, value)
	}
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	current := time.Unix(1000, 0)
	m := NewMemoryWithClock(func() time.Time { return current })

	m.Set(ctx, "k", "v", 30*time.Second)

	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	current = current.Add(31 * time.Second)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected miss after expiry")
	}

	// The stale entry must have been evicted, not merely hidden.
	if m.Len() != 0 {
		t.Fatalf("expected stale entry to be evicted, %d entries remain", m.Len())
	}

	// A later read must not resurrect the value.
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected entry to stay absent after eviction")
	}
}

func TestMemoryClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "a", "1", time.Minute)
	m.Set(ctx, "b", "2", time.Minute)

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatal("expected miss after clear")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", m.Len())
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%4)
			for j := 0; j < 100; j++ {
				m.Set(ctx, key, "v", time.Minute)
				m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if m.Len() != 4 {
		t.Fatalf("expected 4 distinct keys, got %d", m.Len())
	}
}
