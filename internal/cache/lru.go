package cache

import (
	"container/list"
	"sync"
	"time"
)

// lru is the in-memory recency tier. A single lock covers lookup, insertion,
// and eviction; entries past their expiry are deleted on read rather than
// swept.
type lru struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

// DefaultL1Capacity bounds the in-memory tier when no capacity is configured.
const DefaultL1Capacity = 256

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = DefaultL1Capacity
	}
	return &lru{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// get returns the live entry for key, bumping recency and access stats.
// Expired entries are removed and reported as a miss.
func (c *lru) get(key string, now time.Time) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.Expired(now) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, false
	}

	c.order.MoveToFront(elem)
	entry.AccessCount++
	entry.LastAccessed = now
	return entry, true
}

// put inserts or replaces the entry, evicting the least recently used entry
// on overflow.
func (c *lru) put(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[entry.Key]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		return
	}

	c.items[entry.Key] = c.order.PushFront(entry)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*Entry).Key)
	}
}

// delete removes the entry for key, reporting whether one existed.
func (c *lru) delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// len returns the number of resident entries, expired or not.
func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
