package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process TTL cache
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache whose entries expire after ttl.
// Expired entries are swept every cleanupInterval.
func NewMemoryCache(ttl time.Duration, cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * ttl
	}
	return &MemoryCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// Get returns the value if present and not expired
func (c *MemoryCache) Get(key string) (string, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// Set stores a value with the default TTL
func (c *MemoryCache) Set(key string, value string) {
	c.cache.Set(key, value, gocache.DefaultExpiration)
}

// SetWithTTL stores a value with an explicit TTL
func (c *MemoryCache) SetWithTTL(key string, value string, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

// Delete removes a value
func (c *MemoryCache) Delete(key string) {
	c.cache.Delete(key)
}

// Clear removes all values
func (c *MemoryCache) Clear() {
	c.cache.Flush()
}

// Len returns the number of cached items, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
