package store

import (
	"sync"
	"time"
)

// ExpiryCache remembers, per bucket, the latest expiry this process knows the store
// holds. It only decides whether the expiry script needs to run: a stale or missing
// entry costs one extra round trip, never a wrong count or a shortened expiry.
//
// Entries whose expiry has passed are dropped by Sweep, at most once per interval.
type ExpiryCache struct {
	mu        sync.Mutex
	clock     Clock
	interval  time.Duration
	lastSweep time.Time
	entries   map[string]int64
}

// NewExpiryCache creates an empty cache. A nil clock uses SystemClock and a
// non-positive interval uses DefaultSweepInterval.
func NewExpiryCache(clock Clock, interval time.Duration) *ExpiryCache {
	if clock == nil {
		clock = SystemClock
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpiryCache{
		clock:     clock,
		interval:  interval,
		lastSweep: clock.Now(),
		entries:   make(map[string]int64),
	}
}

// NeedsExtend reports whether bucket may expire before required, that is whether
// nothing is cached for it or the cached expiry is earlier than required.
func (c *ExpiryCache) NeedsExtend(bucket string, required int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[bucket]
	return !ok || required > cached
}

// Remember records that bucket expires no earlier than expiry.
// A later expiry already cached is kept.
func (c *ExpiryCache) Remember(bucket string, expiry int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.entries[bucket]; !ok || expiry > cached {
		c.entries[bucket] = expiry
	}
}

// Forget drops the entry for bucket.
func (c *ExpiryCache) Forget(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, bucket)
}

// Sweep removes entries whose expiry is at or before now, if at least one interval has
// passed since the previous sweep. It returns the number of removed entries.
func (c *ExpiryCache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) < c.interval {
		return 0
	}
	c.lastSweep = now

	removed := 0
	unix := now.Unix()
	for bucket, expiry := range c.entries {
		if expiry <= unix {
			delete(c.entries, bucket)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached buckets.
func (c *ExpiryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
