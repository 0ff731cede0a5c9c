package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a recency-ordered store bounded by entry count and, when a cost
// function is configured, by the summed cost of the stored values. Entries
// also expire ttl after their last write.
type LRU[T any] struct {
	mu    sync.Mutex
	order *list.List // front is most recently used
	index map[string]*list.Element

	maxItems int
	maxCost  int64
	costOf   func(T) int64
	used     int64
	ttl      time.Duration
	now      func() time.Time

	hits, misses, evictions uint64
}

type slot[T any] struct {
	key     string
	val     T
	cost    int64
	expires time.Time
}

// Stats is a point-in-time view of an LRU.
type Stats struct {
	Items     int
	Cost      int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type Option[T any] func(*LRU[T])

// WithMaxCost bounds the total cost of stored values. A value whose own cost
// exceeds max is never stored.
func WithMaxCost[T any](max int64, cost func(T) int64) Option[T] {
	return func(c *LRU[T]) {
		c.maxCost = max
		c.costOf = cost
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *LRU[T]) { c.now = now }
}

// ByteLen is the cost function for byte slices.
func ByteLen(b []byte) int64 { return int64(len(b)) }

func NewLRU[T any](maxItems int, ttl time.Duration, opts ...Option[T]) *LRU[T] {
	c := &LRU[T]{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxItems: maxItems,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *LRU[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.index[key]
	if !ok {
		c.misses++
		return zero, false
	}
	s := el.Value.(*slot[T])
	if c.expired(s) {
		c.unlink(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return s.val, true
}

// Set stores val under key and reports whether it was kept. An existing
// entry for key is replaced, or dropped when val is too costly to keep.
func (c *LRU[T]) Set(key string, val T) bool {
	var cost int64
	if c.costOf != nil {
		cost = c.costOf(val)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.unlink(el)
	}
	if c.maxCost > 0 && cost > c.maxCost {
		return false
	}

	s := &slot[T]{key: key, val: val, cost: cost}
	if c.ttl > 0 {
		s.expires = c.now().Add(c.ttl)
	}
	c.index[key] = c.order.PushFront(s)
	c.used += cost

	for c.overBudget() {
		c.unlink(c.order.Back())
		c.evictions++
	}
	return true
}

func (c *LRU[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.unlink(el)
	}
}

func (c *LRU[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.used = 0
}

// CleanExpired drops every expired entry and returns how many went.
func (c *LRU[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*slot[T])) {
			c.unlink(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *LRU[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *LRU[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:     len(c.index),
		Cost:      c.used,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRU[T]) overBudget() bool {
	if c.order.Len() == 0 {
		return false
	}
	if c.maxItems > 0 && c.order.Len() > c.maxItems {
		return true
	}
	return c.maxCost > 0 && c.used > c.maxCost
}

func (c *LRU[T]) expired(s *slot[T]) bool {
	return !s.expires.IsZero() && !c.now().Before(s.expires)
}

func (c *LRU[T]) unlink(el *list.Element) {
	s := c.order.Remove(el).(*slot[T])
	delete(c.index, s.key)
	c.used -= s.cost
}

var _ Cache[[]byte] = (*LRU[[]byte])(nil)
