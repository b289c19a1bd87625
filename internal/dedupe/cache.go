// ABOUTME: Thread-safe TTL cache of inbound (lead id, message id) pairs
// ABOUTME: Lets webhook transports drop provider redeliveries before they reach the engine

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies one inbound delivery.
type Key struct {
	LeadID    string
	MessageID string
}

type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers recent deliveries for ttl, holding at most maxSize keys.
// Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[Key]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[Key]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Seen records the delivery and reports whether it was already recorded
// within the TTL. Check and record are one atomic step.
func (c *Cache) Seen(leadID, messageID string) bool {
	key := Key{LeadID: leadID, MessageID: messageID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}
	return false
}

// Forget removes a delivery so a retry is processed. Used when handling the
// delivery failed after Seen recorded it.
func (c *Cache) Forget(leadID, messageID string) {
	key := Key{LeadID: leadID, MessageID: messageID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest drops the front of the order list. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(Key)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes expired keys. Keys are ordered by last sighting, so the scan
// stops at the first live one.
func (c *Cache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(Key)
		e := c.seen[key]
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
