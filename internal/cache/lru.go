// Package cache holds model definitions and velocity counters for the
// assessment pipeline, in process or in Redis.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultLRUSize = 10000

// LRUCache is an in-process cache bounded by entry count, with a TTL per
// entry. It backs the community tier and the L1 layer of TwoPhaseCache.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front is most recently used
	counters map[string]counter
	now      func() time.Time

	hits, misses, evictions int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// Stats is a point-in-time view of an LRUCache.
type Stats struct {
	Entries   int
	Capacity  int
	Counters  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// NewLRUCache creates a cache holding at most maxSize entries. Counters are
// bounded by the same size; expired ones are swept when it is reached.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultLRUSize
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]counter),
		now:      time.Now,
	}
}

func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	k := makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[k]
	if ok && c.now().After(elem.Value.(*entry).expiresAt) {
		c.remove(elem)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, nil
	}

	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*entry).value, nil
}

func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	k := makeKey(tenantID, key)
	e := &entry{key: k, value: value, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[k]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[k] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		c.evictions++
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[makeKey(tenantID, key)]; ok {
		c.remove(elem)
	}
	return nil
}

func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	k := makeKey(tenantID, counterKey(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cur, ok := c.counters[k]
	if !ok || now.After(cur.expiresAt) {
		if !ok && len(c.counters) >= c.maxSize {
			c.sweepCounters(now)
		}
		cur = counter{expiresAt: now.Add(window)}
	}
	cur.count++
	c.counters[k] = cur
	return cur.count, nil
}

// sweepCounters drops expired counters. One applicant's counter stays
// alive for its window even when the map is full.
func (c *LRUCache) sweepCounters(now time.Time) {
	for k, cur := range c.counters {
		if now.After(cur.expiresAt) {
			delete(c.counters, k)
		}
	}
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]counter)
	return nil
}

func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		Capacity:  c.maxSize,
		Counters:  len(c.counters),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
