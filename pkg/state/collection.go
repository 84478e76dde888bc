// Package state provides the in-memory shared state store: typed bounded
// collections with subscriber fan-out and JSON snapshot persistence.
package state

import (
	"sync"

	"starkagent/pkg/fault"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls further behind loses its oldest undelivered event; the producer
// is never blocked.
const DefaultSubscriberBuffer = 64

// Event is a revision notification delivered to subscribers.
type Event[T any] struct {
	Revision uint64
	Value    T
}

// Subscription is a consumer attached to a collection.
type Subscription[T any] struct {
	ch      chan Event[T]
	pred    func(T) bool // nil matches everything
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// Ch returns the event stream. The channel is closed on Close.
func (s *Subscription[T]) Ch() <-chan Event[T] {
	return s.ch
}

// Dropped returns how many events were lost to backpressure.
func (s *Subscription[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// deliver pushes an event without ever blocking. On a full buffer the oldest
// undelivered event is discarded and counted.
func (s *Subscription[T]) deliver(ev Event[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pred != nil && !s.pred(ev.Value) {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Buffer full: drop the oldest, then retry once.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Options configure a collection at construction time.
type Options[T any] struct {
	// MaxSize bounds the collection. Required, must be positive.
	MaxSize int
	// Key switches the collection to latest-wins keyed storage.
	Key func(T) string
	// EvictBefore orders sequence entries for eviction: when full, the entry
	// for which EvictBefore(candidate, other) holds against all others is
	// removed first. Oldest-first collections compare timestamps; the
	// arbitrage collection compares profit.
	EvictBefore func(a, b T) bool
	// Check validates entries for latest-wins collections. A failing entry
	// is rejected with a state-overflow error.
	Check func(T) error
}

// Collection is a typed, bounded, in-memory collection. Writes are exclusive,
// reads concurrent. Subscribers observe a total order of writes per collection.
type Collection[T any] struct {
	name     string
	mu       sync.RWMutex
	opts     Options[T]
	revision uint64
	items    []T          // sequence mode
	byKey    map[string]T // latest-wins mode
	keys     []string     // insertion order for latest-wins eviction
	subs     []*Subscription[T]
}

// NewCollection creates a collection with the given options.
func NewCollection[T any](name string, opts Options[T]) *Collection[T] {
	c := &Collection[T]{name: name, opts: opts}
	if opts.Key != nil {
		c.byKey = make(map[string]T)
	}
	return c
}

// Name returns the collection name used in snapshots and alerts.
func (c *Collection[T]) Name() string {
	return c.name
}

// Put inserts or replaces a value, evicting as needed, and notifies
// subscribers before returning. It fails only when a latest-wins collection
// rejects the value via its schema check.
func (c *Collection[T]) Put(value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Key != nil {
		if c.opts.Check != nil {
			if err := c.opts.Check(value); err != nil {
				return fault.Wrap(err, fault.KindStateOverflow, "state", c.name+" rejected entry")
			}
		}
		key := c.opts.Key(value)
		if _, exists := c.byKey[key]; !exists {
			c.keys = append(c.keys, key)
			// Evict the oldest key when over bound. Eviction never notifies.
			if c.opts.MaxSize > 0 && len(c.keys) > c.opts.MaxSize {
				oldest := c.keys[0]
				c.keys = c.keys[1:]
				delete(c.byKey, oldest)
			}
		}
		c.byKey[key] = value
	} else {
		c.items = append(c.items, value)
		if c.opts.MaxSize > 0 && len(c.items) > c.opts.MaxSize {
			c.evictLocked()
		}
	}

	c.revision++
	ev := Event[T]{Revision: c.revision, Value: value}
	for _, sub := range c.subs {
		sub.deliver(ev)
	}
	return nil
}

// evictLocked removes the entry ordered first by EvictBefore, or the head of
// the slice (oldest insert) when no order is declared.
func (c *Collection[T]) evictLocked() {
	if c.opts.EvictBefore == nil {
		c.items = c.items[1:]
		return
	}
	victim := 0
	for i := 1; i < len(c.items); i++ {
		if c.opts.EvictBefore(c.items[i], c.items[victim]) {
			victim = i
		}
	}
	c.items = append(c.items[:victim], c.items[victim+1:]...)
}

// Get returns the latest-wins value for key.
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	if c.byKey == nil {
		return zero, false
	}
	v, ok := c.byKey[key]
	return v, ok
}

// List returns up to limit entries matching filter (nil matches all),
// newest-insert last for sequences, insertion order for latest-wins.
// limit <= 0 means no limit.
func (c *Collection[T]) List(filter func(T) bool, limit int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var source []T
	if c.byKey != nil {
		source = make([]T, 0, len(c.keys))
		for _, k := range c.keys {
			if v, ok := c.byKey[k]; ok {
				source = append(source, v)
			}
		}
	} else {
		source = c.items
	}

	out := make([]T, 0, len(source))
	for _, v := range source {
		if filter != nil && !filter(v) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the current cardinality.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.byKey != nil {
		return len(c.byKey)
	}
	return len(c.items)
}

// Revision returns the monotonically increasing write counter.
func (c *Collection[T]) Revision() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

// Subscribe attaches a consumer. pred may be nil to receive every write.
func (c *Collection[T]) Subscribe(pred func(T) bool) *Subscription[T] {
	sub := &Subscription[T]{
		ch:   make(chan Event[T], DefaultSubscriberBuffer),
		pred: pred,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (c *Collection[T]) Unsubscribe(sub *Subscription[T]) {
	c.mu.Lock()
	for i := range c.subs {
		if c.subs[i] == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	sub.close()
}

// replaceAll swaps the collection contents wholesale (snapshot load).
// Subscribers are not notified; load happens before subscribers attach.
func (c *Collection[T]) replaceAll(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byKey != nil {
		c.byKey = make(map[string]T, len(items))
		c.keys = c.keys[:0]
		for _, v := range items {
			key := c.opts.Key(v)
			if _, exists := c.byKey[key]; !exists {
				c.keys = append(c.keys, key)
			}
			c.byKey[key] = v
		}
	} else {
		c.items = append([]T(nil), items...)
		for c.opts.MaxSize > 0 && len(c.items) > c.opts.MaxSize {
			c.evictLocked()
		}
	}
	c.revision++
}

// freeze takes the write lock; used by the store snapshot to briefly stop
// writers across all collections.
func (c *Collection[T]) freeze()   { c.mu.Lock() }
func (c *Collection[T]) unfreeze() { c.mu.Unlock() }

// listLocked returns contents without locking; only valid while frozen.
func (c *Collection[T]) listLocked() []T {
	if c.byKey != nil {
		out := make([]T, 0, len(c.keys))
		for _, k := range c.keys {
			if v, ok := c.byKey[k]; ok {
				out = append(out, v)
			}
		}
		return out
	}
	return append([]T(nil), c.items...)
}
