// Copyright 2025 Certen Protocol
//
// In-flight admission cache: a typed key-value store with atomic
// set-if-absent and TTL sweeping, used to make item admission at-most-once
// under concurrent duplicate uploads. Generalizes the teacher's MemoryKV
// (main.go) from a bare []byte store to a TTL-bounded presence set.

package inflight

import (
	"sync"
	"time"
)

// Cache is a process-wide set of in-flight item ids, each entry
// auto-expiring after its TTL unless explicitly released first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

// New constructs a Cache whose entries expire after ttl if never released.
func New(ttl time.Duration) *Cache {
	return &Cache{entries: make(map[string]time.Time), ttl: ttl}
}

// Claim atomically inserts key if absent (or if its previous entry has
// already expired), returning true on a fresh claim and false if another
// in-flight admission already holds it.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiresAt, ok := c.entries[key]; ok && time.Now().Before(expiresAt) {
		return false
	}
	c.entries[key] = time.Now().Add(c.ttl)
	return true
}

// Release removes key, e.g. once the admission that claimed it has
// finished or failed.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes all expired entries; intended to be called periodically by
// a background goroutine so long-idle entries don't accumulate.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, expiresAt := range c.entries {
		if now.After(expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked entries (including any not yet
// swept past expiry), mainly for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
