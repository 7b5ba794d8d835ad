package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newCache(opts Options) *Cache {
	return New(opts, zap.NewNop())
}

// countingProducer yields distinct responses and tracks call concurrency.
type countingProducer struct {
	calls      atomic.Int64
	concurrent atomic.Int64
	max        atomic.Int64
	delay      time.Duration
	fail       atomic.Bool
}

func (p *countingProducer) produce(ctx context.Context) (string, error) {
	cur := p.concurrent.Add(1)
	defer p.concurrent.Add(-1)
	for {
		old := p.max.Load()
		if cur <= old || p.max.CompareAndSwap(old, cur) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.fail.Load() {
		return "", errors.New("upstream down")
	}
	n := p.calls.Add(1)
	return fmt.Sprintf(`{"variant":%d}`, n), nil
}

func waitQueued(t *testing.T, c *Cache, key string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			e.mu.Lock()
			n := len(e.queue)
			e.mu.Unlock()
			if n >= want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue for %s never reached %d", key, want)
}

func TestAcquire_MissProducesSynchronously(t *testing.T) {
	c := newCache(Options{Stats: true})
	p := &countingProducer{}

	body, hit, err := c.Acquire(context.Background(), "k", 1, p.produce)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if hit {
		t.Fatal("first acquire cannot be a hit")
	}
	if body == "" {
		t.Fatal("empty body")
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAcquire_PrimesPoolInBackground(t *testing.T) {
	c := newCache(Options{Stats: true})
	p := &countingProducer{}

	// First call: synchronous produce + background refill up to capacity 3.
	if _, _, err := c.Acquire(context.Background(), "k", 3, p.produce); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	waitQueued(t, c, "k", 3)

	// The next three acquires drain distinct pooled variants.
	seen := map[string]bool{}
	hits := 0
	for i := 0; i < 3; i++ {
		body, hit, err := c.Acquire(context.Background(), "k", 3, p.produce)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if seen[body] {
			t.Fatalf("variant %q served twice", body)
		}
		seen[body] = true
		if hit {
			hits++
		}
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}

func TestAcquire_QueueBound(t *testing.T) {
	c := newCache(Options{MaxPerKey: 4})
	p := &countingProducer{}

	c.Acquire(context.Background(), "k", 99, p.produce) // clamped to 4
	waitQueued(t, c, "k", 1)
	time.Sleep(100 * time.Millisecond) // let refill settle

	c.mu.RLock()
	e := c.entries["k"]
	c.mu.RUnlock()
	e.mu.Lock()
	n := len(e.queue)
	capacity := e.capacity
	e.mu.Unlock()
	if capacity != 4 {
		t.Fatalf("capacity = %d, want 4", capacity)
	}
	if n > capacity {
		t.Fatalf("queue %d exceeds capacity %d", n, capacity)
	}
}

func TestRefill_SingleFlight(t *testing.T) {
	c := newCache(Options{})
	p := &countingProducer{delay: 20 * time.Millisecond}

	// Many concurrent acquires racing on a cold key.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Acquire(context.Background(), "k", 4, p.produce)
		}()
	}
	wg.Wait()
	waitQueued(t, c, "k", 1)
	time.Sleep(200 * time.Millisecond)

	// Refill produces serially, and the synchronous misses single-flight:
	// concurrency above 2 (one sync produce + one refill) means overlap.
	if got := p.max.Load(); got > 2 {
		t.Fatalf("observed %d concurrent produces, want <= 2", got)
	}
}

func TestRefill_FailureLeavesPartialState(t *testing.T) {
	c := newCache(Options{})
	p := &countingProducer{}

	c.Acquire(context.Background(), "k", 3, p.produce)
	waitQueued(t, c, "k", 1)
	time.Sleep(100 * time.Millisecond)

	p.fail.Store(true)
	// Drain everything; refills now fail and must not wedge the entry.
	for i := 0; i < 5; i++ {
		c.Acquire(context.Background(), "k", 3, p.produce)
	}
	time.Sleep(100 * time.Millisecond)

	p.fail.Store(false)
	if _, _, err := c.Acquire(context.Background(), "k", 3, p.produce); err != nil {
		t.Fatalf("recovery acquire failed: %v", err)
	}
}

func TestAcquire_ProduceErrorSurfaces(t *testing.T) {
	c := newCache(Options{})
	p := &countingProducer{}
	p.fail.Store(true)
	if _, _, err := c.Acquire(context.Background(), "k", 1, p.produce); err == nil {
		t.Fatal("expected produce error")
	}
}

func TestInvalidate(t *testing.T) {
	c := newCache(Options{})
	p := &countingProducer{}
	c.Acquire(context.Background(), "k", 2, p.produce)
	waitQueued(t, c, "k", 1)

	c.Invalidate("k")
	c.mu.RLock()
	_, ok := c.entries["k"]
	c.mu.RUnlock()
	if ok {
		t.Fatal("entry survived invalidation")
	}
	if got := c.totalQueued.Load(); got != 0 {
		t.Fatalf("totalQueued = %d after invalidate", got)
	}
}

func TestSweep_Expiry(t *testing.T) {
	c := newCache(Options{Sliding: time.Minute, Absolute: time.Hour})
	p := &countingProducer{}
	c.Acquire(context.Background(), "k", 1, p.produce)

	c.mu.RLock()
	c.entries["k"].lastAccessedAt = time.Now().Add(-2 * time.Minute)
	c.mu.RUnlock()

	c.sweep(time.Now())
	c.mu.RLock()
	_, ok := c.entries["k"]
	c.mu.RUnlock()
	if ok {
		t.Fatal("expired entry survived sweep")
	}
}

func TestGlobalBound_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := newCache(Options{MaxPerKey: 4, MaxItems: 4})
	p := &countingProducer{}

	c.Acquire(context.Background(), "old", 3, p.produce)
	waitQueued(t, c, "old", 2)
	time.Sleep(100 * time.Millisecond)

	c.mu.RLock()
	c.entries["old"].lastAccessedAt = time.Now().Add(-time.Hour)
	c.mu.RUnlock()

	c.Acquire(context.Background(), "new", 4, p.produce)
	waitQueued(t, c, "new", 3)
	time.Sleep(200 * time.Millisecond)

	if got := int(c.totalQueued.Load()); got > 4 {
		t.Fatalf("global queued = %d exceeds MaxItems", got)
	}
}

func TestCompression_RoundTrip(t *testing.T) {
	big := `{"data":"` + strings.Repeat("abcdefgh", 1024) + `"}`

	it, err := newItem(big, CompressionOptions{Enabled: true, MinBytes: 64})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !it.gzipped {
		t.Fatal("large payload should compress")
	}
	if len(it.data) >= len(big) {
		t.Fatal("compression did not shrink payload")
	}
	out, err := it.open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != big {
		t.Fatal("round trip mismatch")
	}

	small, _ := newItem(`{"a":1}`, CompressionOptions{Enabled: true, MinBytes: 64})
	if small.gzipped {
		t.Fatal("tiny payload should stay raw")
	}
}
