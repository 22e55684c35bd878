package source

import (
	"container/list"
	"sync"
)

// chunkCache is a bounded, thread-safe LRU of fixed-size byte chunks,
// generalized from the teacher's map-based stream registries
// (internal/stream/manager.go) into an eviction-ordered structure: the
// registries only ever grew and shrank by explicit create/remove, but a
// byte-range cache must evict automatically once either bound is hit.
type chunkCache struct {
	mu       sync.Mutex
	maxBytes uint64
	maxCount int

	ll    *list.List // front = most recently used
	items map[uint64]*list.Element
	bytes uint64
}

type cacheEntry struct {
	key  uint64 // chunk-aligned offset
	data []byte // shared, immutable; callers must copy before mutating
}

func newChunkCache(maxBytes uint64, maxCount int) *chunkCache {
	return &chunkCache{
		maxBytes: maxBytes,
		maxCount: maxCount,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// get returns the cached chunk at key, if present, promoting it to
// most-recently-used.
func (c *chunkCache) get(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

// put inserts or replaces the chunk at key, evicting least-recently-used
// entries until both the byte and count bounds are satisfied.
func (c *chunkCache) put(key uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.bytes -= uint64(len(el.Value.(*cacheEntry).data))
		el.Value = &cacheEntry{key: key, data: data}
		c.bytes += uint64(len(data))
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheEntry{key: key, data: data})
		c.items[key] = el
		c.bytes += uint64(len(data))
	}

	for (c.maxBytes > 0 && c.bytes > c.maxBytes) || (c.maxCount > 0 && c.ll.Len() > c.maxCount) {
		back := c.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry)
		c.bytes -= uint64(len(entry.data))
		delete(c.items, entry.key)
		c.ll.Remove(back)
	}
}
