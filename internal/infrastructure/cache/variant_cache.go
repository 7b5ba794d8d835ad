// Package cache is the variant cache: a keyed, bounded pool of pre-generated
// response variants per request fingerprint, with sliding and absolute
// expiration, single-flight refill, optional compression, and statistics.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mockforge/mockforge/internal/domain/service"
)

// Options tune the cache.
type Options struct {
	DefaultCount int           // pool size when the request carries no $cache hint
	MaxPerKey    int           // hard per-key pool bound
	MaxItems     int           // global bound on queued variants
	Sliding      time.Duration // idle expiry per entry
	Absolute     time.Duration // total lifetime per entry
	Compression  CompressionOptions
	Stats        bool
}

func (o *Options) defaults() {
	if o.DefaultCount <= 0 {
		o.DefaultCount = 1
	}
	if o.MaxPerKey <= 0 {
		o.MaxPerKey = 10
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 1000
	}
	if o.Sliding <= 0 {
		o.Sliding = 15 * time.Minute
	}
	if o.Absolute <= 0 {
		o.Absolute = 60 * time.Minute
	}
}

// entry is one fingerprint's pool. The lock is held only for O(queue-op)
// work — produce calls never run under it.
type entry struct {
	mu             sync.Mutex
	queue          []item
	capacity       int
	isPrimed       bool
	refillInFlight bool
	createdAt      time.Time
	lastAccessedAt time.Time
}

// Cache is the process-wide variant cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	opts        Options
	produceOnce singleflight.Group

	totalQueued atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64

	logger *zap.Logger
}

// Compile-time interface check
var _ service.VariantCache = (*Cache)(nil)

// New creates a variant cache.
func New(opts Options, logger *zap.Logger) *Cache {
	opts.defaults()
	return &Cache{
		entries: make(map[string]*entry),
		opts:    opts,
		logger:  logger.With(zap.String("component", "variant-cache")),
	}
}

// Acquire returns a pooled variant for key, or produces one synchronously on
// miss. Concurrent callers never receive the same pooled variant, and
// concurrent misses on the same key share a single synchronous produce.
// A background refill is triggered when the entry is unprimed or the pool
// has drained below half capacity; entries with a capacity of 1 or less are
// never refilled, so every miss on them produces synchronously.
func (c *Cache) Acquire(ctx context.Context, key string, capacity int, produce service.ProduceFunc) (string, bool, error) {
	capacity = c.effectiveCapacity(capacity)
	e := c.entryFor(key, capacity)

	e.mu.Lock()
	e.lastAccessedAt = time.Now()
	e.capacity = capacity
	if len(e.queue) > 0 {
		it := e.queue[0]
		e.queue = e.queue[1:]
		needRefill := e.shouldRefillLocked()
		e.mu.Unlock()

		c.totalQueued.Add(-1)
		if c.opts.Stats {
			c.hits.Add(1)
		}
		if needRefill {
			go c.refill(context.WithoutCancel(ctx), key, produce)
		}
		body, err := it.open()
		if err != nil {
			// A corrupt blob is unrecoverable; fall back to producing.
			c.logger.Warn("Cached variant unreadable, regenerating", zap.String("key", key), zap.Error(err))
			return c.produceSync(ctx, key, produce)
		}
		return body, true, nil
	}
	needRefill := e.shouldRefillLocked()
	e.mu.Unlock()

	if c.opts.Stats {
		c.misses.Add(1)
	}
	body, _, err := c.produceSync(ctx, key, produce)
	if err != nil {
		return "", false, err
	}
	if needRefill {
		go c.refill(context.WithoutCancel(ctx), key, produce)
	}
	return body, false, nil
}

func (c *Cache) produceSync(ctx context.Context, key string, produce service.ProduceFunc) (string, bool, error) {
	// Single-flight: concurrent misses on the same key trigger at most one
	// synchronous produce and share its result.
	v, err, _ := c.produceOnce.Do(key, func() (any, error) {
		return produce(ctx)
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

// shouldRefillLocked decides whether a background refill is warranted.
// Caller holds e.mu.
func (e *entry) shouldRefillLocked() bool {
	if e.refillInFlight || e.capacity <= 1 {
		return false
	}
	return !e.isPrimed || len(e.queue) < e.capacity/2
}

// refill tops the pool up to capacity, one produce per variant. Guarded by
// refillInFlight so at most one refill runs per entry at any time. Failures
// leave the queue in its partial state; the next caller retries.
func (c *Cache) refill(ctx context.Context, key string, produce service.ProduceFunc) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.refillInFlight {
		e.mu.Unlock()
		return
	}
	e.refillInFlight = true
	need := e.capacity - len(e.queue)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.refillInFlight = false
		e.mu.Unlock()
	}()

	produced := 0
	for i := 0; i < need; i++ {
		if ctx.Err() != nil {
			break
		}
		body, err := produce(ctx)
		if err != nil {
			c.logger.Warn("Variant refill stopped",
				zap.String("key", key),
				zap.Int("produced", produced),
				zap.Int("wanted", need),
				zap.Error(err),
			)
			break
		}

		it, err := newItem(body, c.opts.Compression)
		if err != nil {
			c.logger.Warn("Variant compression failed, storing raw", zap.Error(err))
			it = item{data: []byte(body)}
		}

		// The entry may have been evicted or invalidated mid-refill; a
		// detached entry must not distort the global counter.
		c.mu.RLock()
		live := c.entries[key] == e
		c.mu.RUnlock()
		if !live {
			break
		}

		e.mu.Lock()
		if len(e.queue) < e.capacity {
			e.queue = append(e.queue, it)
			e.isPrimed = true
			produced++
			c.totalQueued.Add(1)
		}
		e.mu.Unlock()

		c.enforceGlobalBound(key)
	}
}

// Invalidate removes one entry atomically.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		e.mu.Lock()
		c.totalQueued.Add(int64(-len(e.queue)))
		e.queue = nil
		e.mu.Unlock()
	}
}

// Stats returns a best-effort snapshot.
func (c *Cache) Stats() service.CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return service.CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Entries:     entries,
		TotalQueued: int(c.totalQueued.Load()),
	}
}

// Run sweeps expired entries every minute until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep removes entries past their sliding or absolute expiry.
func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		e.mu.Lock()
		expired := now.Sub(e.lastAccessedAt) > c.opts.Sliding || now.Sub(e.createdAt) > c.opts.Absolute
		queued := len(e.queue)
		if expired {
			e.queue = nil
		}
		e.mu.Unlock()
		if expired {
			delete(c.entries, key)
			c.totalQueued.Add(int64(-queued))
			c.logger.Debug("Variant entry expired", zap.String("key", key))
		}
	}
}

// enforceGlobalBound evicts least-recently-accessed entries (other than the
// one being refilled) while the global queued total exceeds MaxItems.
func (c *Cache) enforceGlobalBound(protect string) {
	if int(c.totalQueued.Load()) <= c.opts.MaxItems {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	type aged struct {
		key  string
		at   time.Time
		size int
	}
	var candidates []aged
	for key, e := range c.entries {
		if key == protect {
			continue
		}
		e.mu.Lock()
		candidates = append(candidates, aged{key, e.lastAccessedAt, len(e.queue)})
		e.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })

	for _, cand := range candidates {
		if int(c.totalQueued.Load()) <= c.opts.MaxItems {
			return
		}
		if e, ok := c.entries[cand.key]; ok {
			e.mu.Lock()
			c.totalQueued.Add(int64(-len(e.queue)))
			e.queue = nil
			e.mu.Unlock()
			delete(c.entries, cand.key)
			c.logger.Debug("Variant entry evicted for global bound", zap.String("key", cand.key))
		}
	}
}

func (c *Cache) effectiveCapacity(requested int) int {
	if requested <= 0 {
		requested = c.opts.DefaultCount
	}
	if requested > c.opts.MaxPerKey {
		requested = c.opts.MaxPerKey
	}
	if requested > c.opts.MaxItems {
		requested = c.opts.MaxItems
	}
	return requested
}

func (c *Cache) entryFor(key string, capacity int) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	now := time.Now()
	e = &entry{capacity: capacity, createdAt: now, lastAccessedAt: now}
	c.entries[key] = e
	return e
}
