// ABOUTME: Throttle suppresses repeats of the same notification within a window
// ABOUTME: Backed by a size-limited TTL cache with O(1) eviction of the oldest key

package notify

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultThrottleSize = 1024

type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// seenCache remembers keys for a TTL, evicting the oldest key when full.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func newSeenCache(ttl time.Duration, maxSize int, now func() time.Time) *seenCache {
	if maxSize <= 0 {
		maxSize = defaultThrottleSize
	}
	if now == nil {
		now = time.Now
	}
	return &seenCache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// checkAndMark reports whether key was seen within the TTL and marks it if not.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.timestamp) < c.ttl {
			return true
		}
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &seenEntry{timestamp: now, element: c.order.PushBack(key)}
	return false
}

func (c *seenCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Throttle wraps a Notifier so identical texts are delivered at most once
// per window.
type Throttle struct {
	inner Notifier
	cache *seenCache
}

// NewThrottle wraps inner. A non-positive window disables suppression.
func NewThrottle(inner Notifier, window time.Duration) *Throttle {
	return newThrottle(inner, window, nil)
}

func newThrottle(inner Notifier, window time.Duration, now func() time.Time) *Throttle {
	return &Throttle{inner: inner, cache: newSeenCache(window, defaultThrottleSize, now)}
}

// Notify implements Notifier. Suppressed notifications return nil.
func (t *Throttle) Notify(ctx context.Context, text string) error {
	if t.cache.ttl > 0 && t.cache.checkAndMark(text) {
		return nil
	}
	return t.inner.Notify(ctx, text)
}
