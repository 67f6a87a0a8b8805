package cache

import (
	"container/list"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Option configures an LRUCache.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces time.Now as the cache time source.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// LRU cache with per-entry TTL and size-based eviction.
// An entry is valid only while now < expiresAt; expired entries read as absent.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     Clock
	items   map[string]*list.Element
	lru     *list.List
	// gen advances on Purge. A computation started under an older
	// generation does not store its result.
	gen uint64
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache whose Set uses ttl as default lifetime.
// A maxSize of zero or less disables size eviction.
func NewLRUCache[T any](maxSize int, ttl time.Duration, opts ...Option) *LRUCache[T] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     o.clock,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// TTL returns the default lifetime used by Set.
func (c *LRUCache[T]) TTL() time.Duration {
	return c.ttl
}

// Get retrieves a value from the cache
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *LRUCache[T]) getLocked(key string) (T, bool) {
	var zero T
	elem, exists := c.items[key]
	if !exists {
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if !c.now().Before(item.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	return item.data, true
}

// Set stores a value with the default TTL.
func (c *LRUCache[T]) Set(key string, data T) {
	c.SetWithTTL(key, data, c.ttl)
}

// SetWithTTL stores a value that expires ttl from now, overwriting any
// previous entry for key.
func (c *LRUCache[T]) SetWithTTL(key string, data T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, data, ttl)
}

func (c *LRUCache[T]) setLocked(key string, data T, ttl time.Duration) {
	item := &cacheItem[T]{
		key:       key,
		data:      data,
		expiresAt: c.now().Add(ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.maxSize > 0 && c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// GetOrCompute returns the live entry for key, or runs fn and stores its
// result for ttl. A failing fn leaves the cache untouched and its error is
// returned as is. When Purge runs while fn is computing, the result is
// returned to the caller but not stored.
//
// fn runs without the lock held, so two callers that miss at the same time
// may both compute. Callers that need a single computation per key wrap this
// with singleflight.
func (c *LRUCache[T]) GetOrCompute(key string, ttl time.Duration, fn func() (T, error)) (T, bool, error) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	gen := c.gen
	c.mu.Unlock()
	if ok {
		return v, true, nil
	}

	v, err := fn()
	if err != nil {
		var zero T
		return zero, false, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.setLocked(key, v, ttl)
	}
	c.mu.Unlock()
	return v, false, nil
}

// Purge drops every entry and returns how many were held.
func (c *LRUCache[T]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.gen++
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	return n
}

func (c *LRUCache[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if !now.Before(elem.Value.(*cacheItem[T]).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

// Size returns the number of entries held, expired ones included until they
// are read or swept.
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
