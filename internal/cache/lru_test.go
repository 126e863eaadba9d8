package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set("a", "1")
	c.Set("a", "2")
	if v, ok := c.Get("a"); !ok || v != "2" {
		t.Fatalf("Get(a) = %q, %v; want 2, true", v, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("overwriting must not grow the cache, size=%d", c.Size())
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a") // a is now most recently used
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	clock.Advance(30 * time.Second)
	c.Set("c", "3")
	clock.Advance(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry should miss")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1 (b)", n)
	}
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Errorf("fresh entry lost: %q %v", v, ok)
	}
}

func TestLRUCache_Disabled(t *testing.T) {
	c, _ := newTestCache(0, time.Minute)
	c.Set("a", "1")
	if _, ok := c.Get("a"); ok || c.Size() != 0 {
		t.Fatal("zero-size cache must not store entries")
	}
}

func TestLRUCache_DeletePurge(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprint(i), "v")
	}
	c.Delete("0")
	if _, ok := c.Get("0"); ok {
		t.Error("deleted entry should miss")
	}
	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Purge() left %d entries", c.Size())
	}
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := NewLRUCache[int](100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i%50)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Size() > 100 {
		t.Fatalf("size %d exceeds capacity", c.Size())
	}
}

func TestManager_Sweep(t *testing.T) {
	c, clock := newTestCache(10, time.Second)
	c.Set("a", "1")
	clock.Advance(2 * time.Second)

	m := NewManager()
	m.Register(c)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartCleanup(ctx, time.Millisecond)
	m.Stop()
	m.Stop()
}
