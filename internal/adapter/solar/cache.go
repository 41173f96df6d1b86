package solar

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
)

// CachedCalculator wraps a SunCalculator with an in-memory LRU cache keyed by
// coordinates and date.
type CachedCalculator struct {
	inner   domain.SunCalculator
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedCalculator creates a cache decorator around a calculator.
func NewCachedCalculator(inner domain.SunCalculator, maxEntries int, metrics *observability.Metrics) *CachedCalculator {
	return &CachedCalculator{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedCalculator) SunriseSunset(ctx context.Context, lat, lon float64, date domain.Date) (domain.SunTimes, error) {
	key := fmt.Sprintf("%.5f,%.5f|%s", lat, lon, date)
	if st, ok := c.cache.get(key); ok {
		c.metrics.SunCache.WithLabelValues("hit").Inc()
		return st, nil
	}
	c.metrics.SunCache.WithLabelValues("miss").Inc()

	st, err := c.inner.SunriseSunset(ctx, lat, lon, date)
	if err != nil {
		// Errors are not cached; a cancelled context must not poison the entry.
		return st, err
	}
	c.cache.put(key, st)
	return st, nil
}

// lruCache is a small thread-safe LRU of sun times.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*node
	head       *node // most recently used
	tail       *node // least recently used
}

type node struct {
	key        string
	value      domain.SunTimes
	prev, next *node
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*node, maxEntries),
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) get(key string) (domain.SunTimes, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return domain.SunTimes{}, false
	}
	c.touch(n)
	return n.value, true
}

func (c *lruCache) put(key string, value domain.SunTimes) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		n.value = value
		c.touch(n)
		return
	}

	n := &node{key: key, value: value}
	c.entries[key] = n
	c.pushFront(n)
	if len(c.entries) > c.maxEntries {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.key)
	}
}

func (c *lruCache) touch(n *node) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (c *lruCache) pushFront(n *node) {
	n.prev, n.next = nil, c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *lruCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
