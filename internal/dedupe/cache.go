// ABOUTME: Thread-safe TTL cache tracking recently settled request ids.
// ABOUTME: Lets the correlator tell late duplicate frames apart from unknown ones.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the settle time and list element for a cached request id.
type entry struct {
	settledAt time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited record of request ids that have already
// settled (resolved, rejected, timed out, or cancelled). An inbound frame
// whose id is found here is a late duplicate and must be dropped instead of
// being dispatched to type subscribers. Insertion order is kept in a linked
// list for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	settled map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a settled-request cache. A background goroutine sweeps expired
// entries once a minute.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		settled: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether the request id settled within the TTL window.
func (c *Cache) Seen(requestID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.settled[requestID]
	if !ok {
		return false
	}
	return time.Since(e.settledAt) < c.ttl
}

// Mark records that a request id has settled. At capacity the oldest entry
// is evicted.
func (c *Cache) Mark(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, exists := c.settled[requestID]; exists {
		e.settledAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.settled) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(requestID)
	c.settled[requestID] = &entry{settledAt: now, element: elem}
}

// evictOldest removes the oldest entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.settled, id)
}

// sweepLoop periodically removes expired entries.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.settled {
		if now.Sub(e.settledAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.settled, id)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
