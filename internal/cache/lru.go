package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCounter is a thread-safe, size-bounded set of windowed counters.
// When full, the least recently touched counter is evicted.
type LRUCounter struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type counterEntry struct {
	key       string
	count     int64
	expiresAt time.Time
}

// NewLRUCounter creates a counter store holding at most maxSize keys.
func NewLRUCounter(maxSize int) *LRUCounter {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCounter{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// IncrementCounter atomically increments a counter.
func (c *LRUCounter) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*counterEntry)
		c.order.MoveToFront(elem)
		if now.After(entry.expiresAt) {
			// Start new counter window
			entry.count = 1
			entry.expiresAt = now.Add(window)
			return 1, nil
		}
		entry.count++
		return entry.count, nil
	}

	elem := c.order.PushFront(&counterEntry{
		key:       key,
		count:     1,
		expiresAt: now.Add(window),
	})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
	return 1, nil
}

// Ping checks counter health.
func (c *LRUCounter) Ping(ctx context.Context) error {
	return nil
}

// Close drops every counter.
func (c *LRUCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns counter statistics.
func (c *LRUCounter) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCounter) removeOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*counterEntry).key)
}
