package backpack

import "sync"

// ringCache is a bounded, insertion-ordered buffer. Appending beyond the
// bound evicts the oldest entry. Used for trades and klines.
type ringCache[T any] struct {
	mu    sync.RWMutex
	items []T
	max   int
}

func newRingCache[T any](max int) *ringCache[T] {
	if max <= 0 {
		max = 1
	}
	return &ringCache[T]{max: max}
}

func (c *ringCache[T]) append(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	if len(c.items) > c.max {
		c.items = c.items[len(c.items)-c.max:]
	}
}

// snapshot returns the cached items oldest first.
func (c *ringCache[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// keyedCache is a bounded cache whose entries carry an identity. Upserting
// an existing id replaces the entry in place, preserving its position;
// a new id appends, evicting the oldest once the bound is exceeded.
// Used for orders and positions.
type keyedCache[T any] struct {
	mu    sync.RWMutex
	items []keyedEntry[T]
	max   int
}

type keyedEntry[T any] struct {
	id   string
	item T
}

func newKeyedCache[T any](max int) *keyedCache[T] {
	if max <= 0 {
		max = 1
	}
	return &keyedCache[T]{max: max}
}

func (c *keyedCache[T]) upsert(id string, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].id == id {
			c.items[i].item = item
			return
		}
	}
	c.items = append(c.items, keyedEntry[T]{id: id, item: item})
	if len(c.items) > c.max {
		c.items = c.items[len(c.items)-c.max:]
	}
}

func (c *keyedCache[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, e := range c.items {
		out = append(out, e.item)
	}
	return out
}
