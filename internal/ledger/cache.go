package ledger

import (
	"container/list"
	"sync"
)

// BlockCache is a bounded, content-addressed LRU shared across watchers
// for block/transaction fetches (spec.md §4.1). Keys are content hashes,
// so concurrent readers inserting the same key race harmlessly onto the
// same value; no suitable third-party LRU package appears anywhere in the
// example pack (the pack's only caching type, internal/contracts/htlc's
// Cache, wraps go-ethereum's own connector rather than providing a
// general LRU), so this one bounded map is hand-rolled on top of
// container/list — see DESIGN.md.
type BlockCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key   string
	value interface{}
}

func NewBlockCache(capacity int) *BlockCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &BlockCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *BlockCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

// GetOrLoad returns the cached value for key, or calls load to produce and
// cache it if absent. load is invoked outside the cache lock so a slow RPC
// fetch never blocks unrelated lookups.
func (c *BlockCache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Put(key, v)
	return v, nil
}

func (c *BlockCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
