package dispatch

import (
	"container/list"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Cache bounds. Entries expire after the TTL and the least recently used
// entry is evicted when the cache is full.
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Second
)

// cacheKey produces a stable key for a call: FNV-64a over the method name and
// the canonical JSON encoding of the arguments. encoding/json sorts map keys,
// so argument order never changes the key.
func cacheKey(method string, args map[string]any) (uint64, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return 0, fmt.Errorf("uncacheable arguments for %s: %w", method, err)
	}
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(encoded)
	return h.Sum64(), nil
}

type cacheEntry struct {
	key      uint64
	value    any
	endpoint string
	expires  time.Time
}

// ttlCache is an LRU cache with per-entry expiry. Only successful results are
// stored, together with the endpoint that produced them; failures are never
// cached.
type ttlCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recently used
	entries map[uint64]*list.Element
	now     func() time.Time
}

func newTTLCache(maxSize int, ttl time.Duration, now func() time.Time) *ttlCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ttlCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[uint64]*list.Element),
		now:     now,
	}
}

func (c *ttlCache) get(key uint64) (any, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, "", false
	}
	c.order.MoveToFront(el)
	return entry.value, entry.endpoint, true
}

func (c *ttlCache) put(key uint64, value any, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.endpoint = endpoint
		entry.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{
		key:      key,
		value:    value,
		endpoint: endpoint,
		expires:  c.now().Add(c.ttl),
	})
	c.entries[key] = el

	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
