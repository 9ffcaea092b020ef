// ABOUTME: Thread-safe TTL cache for suppressing repeated memory facts.
// ABOUTME: Keys are normalized category/text pairs, evicted oldest-first at capacity.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultMaxSize bounds the cache when the configured size is not positive.
const DefaultMaxSize = 4096

// entry stores the time a key was last marked and its position in the order list.
type entry struct {
	marked  time.Time
	element *list.Element
}

// Cache remembers keys for a TTL, holding at most maxSize of them.
// The order list keeps insertion order (oldest at front) for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity and starts the
// background sweep. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(time.Minute)
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Key builds the cache key for a memory fact. Case, surrounding punctuation
// and runs of whitespace do not distinguish facts.
func Key(category, text string) string {
	return Normalize(category) + "|" + Normalize(text)
}

// Normalize lower-cases s, collapses whitespace and trims trailing
// sentence punctuation.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '"'
	})
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.now().Sub(e.marked) < c.ttl
}

// Add marks key and reports whether it was new. An existing live key is left
// untouched so a fact that keeps recurring still expires one TTL after it
// was first reported.
func (c *Cache) Add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.marked) < c.ttl {
			return false
		}
		e.marked = now
		c.order.MoveToBack(e.element)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &entry{marked: now, element: c.order.PushBack(key)}
	return true
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest removes the front of the order list. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops every expired key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.seen {
		if now.Sub(e.marked) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
