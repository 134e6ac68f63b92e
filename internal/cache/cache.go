// Package cache memoizes compiled bundles by source fingerprint.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// MaxSize bounds the number of entries. Zero means unbounded.
	MaxSize int
	// MaxAge bounds the age of an entry, measured from when it was stored.
	// Zero means entries never expire.
	MaxAge time.Duration
	// Registerer receives the cache metrics when set.
	Registerer prometheus.Registerer
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Failures  uint64
	Evictions uint64
}

type entry[T any] struct {
	key     string
	value   T
	created time.Time
}

// Cache is a bounded LRU of compiled values keyed by fingerprint. Concurrent
// misses on one key share a single compile; failed compiles are not stored.
type Cache[T any] struct {
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
	metrics *Metrics

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	stats   Stats
}

// New creates a cache.
func New[T any](opts Options) *Cache[T] {
	c := &Cache[T]{
		maxSize: opts.MaxSize,
		maxAge:  opts.MaxAge,
		now:     opts.Now,
		metrics: newMetrics(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.Registerer != nil {
		c.metrics.MustRegister(opts.Registerer)
	}
	return c
}

// GetOrCompile returns the value stored under key, compiling it on a miss.
// Callers asking for the same key while a compile is running wait for that
// compile. The compile runs on a context detached from ctx's cancellation;
// a caller whose ctx ends gets ctx.Err() while the compile carries on for
// the others.
func (c *Cache[T]) GetOrCompile(ctx context.Context, key string, compile func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.get(key, true); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// a flight that finished just before this one started already stored it
		if v, ok := c.get(key, false); ok {
			return v, nil
		}
		start := c.now()
		v, err := compile(detached)
		c.metrics.observeCompile(c.now().Sub(start).Seconds(), err)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.stats.Compiles++
		if err != nil {
			c.stats.Failures++
			return nil, err
		}
		c.store(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Get returns the value stored under key without compiling.
func (c *Cache[T]) Get(key string) (T, bool) {
	return c.get(key, true)
}

func (c *Cache[T]) get(key string, count bool) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()

	el, ok := c.entries[key]
	if !ok {
		if count {
			c.stats.Misses++
			c.metrics.misses.Inc()
		}
		var zero T
		return zero, false
	}
	c.lru.MoveToFront(el)
	if count {
		c.stats.Hits++
		c.metrics.hits.Inc()
	}
	return el.Value.(*entry[T]).value, true
}

// store must be called with c.mu held.
func (c *Cache[T]) store(key string, v T) {
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[T])
		e.value, e.created = v, c.now()
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&entry[T]{key: key, value: v, created: c.now()})
	for c.maxSize > 0 && c.lru.Len() > c.maxSize {
		c.remove(c.lru.Back(), "size")
	}
}

// evictExpired must be called with c.mu held.
func (c *Cache[T]) evictExpired() {
	if c.maxAge <= 0 {
		return
	}
	now := c.now()
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*entry[T]).created) >= c.maxAge {
			c.remove(el, "age")
		}
		el = next
	}
}

func (c *Cache[T]) remove(el *list.Element, reason string) {
	e := c.lru.Remove(el).(*entry[T])
	delete(c.entries, e.key)
	c.stats.Evictions++
	c.metrics.evictions.WithLabelValues(reason).Inc()
}

// Len returns the number of live entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	return c.lru.Len()
}

// Purge drops every entry. Compiles in flight still complete and store their
// results.
func (c *Cache[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	return s
}
