package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL-based in-memory cache with stale-while-revalidate for
// resolved projects. Uses sync.Map for lock-free reads on the hot path.
type Cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	project    *Project
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Project      *Project
	Hit          bool
	NeedsRefresh bool
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *Cache) Get(apiKey string) CacheGetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*cacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return CacheGetResult{
			Project: entry.project,
			Hit:     true,
		}
	}

	// Stale hit — signal refresh needed (only one goroutine wins the CAS)
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a project with a fresh TTL.
func (c *Cache) Set(apiKey string, project *Project) {
	c.store.Store(apiKey, &cacheEntry{
		project:   project,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// AbandonRefresh releases the refresh claim on apiKey so a later stale read
// can try again. Called when a background refresh fails.
func (c *Cache) AbandonRefresh(apiKey string) {
	if val, ok := c.store.Load(apiKey); ok {
		val.(*cacheEntry).refreshing.Store(false)
	}
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
