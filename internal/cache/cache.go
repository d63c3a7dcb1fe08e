// Package cache provides an in-process TTL cache with pattern invalidation
// and hit/miss statistics.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/supportdesk/chat-platform/pkg/metrics"
)

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Stats is a snapshot of cache statistics.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is a key-value store with per-entry TTL. Entries expire lazily on
// read; Cleanup sweeps proactively when the host schedules it. There is no
// size-bound eviction, only TTL and explicit invalidation.
//
// All methods are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	hits       uint64
	misses     uint64
	defaultTTL time.Duration

	// now is replaceable so tests can simulate the passage of time.
	now func() time.Time
}

// New creates a cache with the given default TTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock replaces the cache's time source. Test utility.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the live value for key. An expired entry counts as a miss and
// is deleted on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		metrics.CacheEntries.Set(float64(len(c.entries)))
		c.misses++
		metrics.CacheMisses.Inc()
		return nil, false
	}

	c.hits++
	metrics.CacheHits.Inc()
	return e.value, true
}

// Typed returns the value for key asserted to T. A stored value of the wrong
// type counts as present but yields the zero value and false.
func Typed[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Set unconditionally overwrites key with value. A non-positive ttl selects
// the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: ttl}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return ok
}

// InvalidatePattern removes every live key matching pattern and returns the
// number removed. The only wildcard is '*', matching any run of characters;
// everything else matches literally.
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if globMatch(pattern, key) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return removed
}

// Clear drops all entries and resets statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.hits = 0
	c.misses = 0
	metrics.CacheEntries.Set(0)
}

// Cleanup sweeps expired entries and returns the number removed. Invoked on
// a schedule by the host, never internally.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return removed
}

// GetStats returns a snapshot of cache statistics. HitRate is 0 when no
// lookups have occurred.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// globMatch matches s against a pattern whose entire grammar is the '*'
// wildcard. Literal segments between wildcards must appear in order.
func globMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	segments := strings.Split(pattern, "*")

	// Anchored prefix.
	if first := segments[0]; first != "" {
		if !strings.HasPrefix(s, first) {
			return false
		}
		s = s[len(first):]
	}

	// Anchored suffix.
	last := segments[len(segments)-1]
	if last != "" {
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
	}

	// Interior segments match greedily left to right.
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return true
}
