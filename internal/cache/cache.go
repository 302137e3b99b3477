package cache

import (
	"sync"
	"time"
)

// TTL constants for device enumeration data
const (
	// Block device listings - disks come and go with hotplug
	TTLDevices = 30 * time.Second

	// Sysfs attributes that only change when hardware is swapped
	TTLSysfs = 5 * time.Minute
)

// CacheEntry holds a cached value with expiration
type CacheEntry struct {
	Value     any
	ExpiresAt time.Time
	FetchedAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *CacheEntry) IsExpired() bool {
	return now().After(e.ExpiresAt)
}

// Age returns how long ago the entry was fetched
func (e *CacheEntry) Age() time.Duration {
	return now().Sub(e.FetchedAt)
}

// now is replaced in tests
var now = time.Now

// Cache provides thread-safe TTL-based caching
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// New creates a new cache instance
func New() *Cache {
	return &Cache{
		entries: make(map[string]*CacheEntry),
	}
}

// Get retrieves a value from cache, returns nil if expired or not found
func (c *Cache) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.IsExpired() {
		return nil
	}
	return entry.Value
}

// GetEntry retrieves the full cache entry, expired or not
func (c *Cache) GetEntry(key string) *CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	return entry
}

// Set stores a value with the given TTL
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := now()
	c.entries[key] = &CacheEntry{
		Value:     value,
		ExpiresAt: t.Add(ttl),
		FetchedAt: t,
	}
}

// SetDevices stores a device listing
func (c *Cache) SetDevices(key string, value any) {
	c.Set(key, value, TTLDevices)
}

// SetSysfs stores sysfs-derived data
func (c *Cache) SetSysfs(key string, value any) {
	c.Set(key, value, TTLSysfs)
}

// Delete removes an entry from cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Cleanup removes expired entries
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if v.IsExpired() {
			delete(c.entries, k)
		}
	}
}

// Global cache instance
var global *Cache
var once sync.Once

// Global returns the global cache instance
func Global() *Cache {
	once.Do(func() {
		global = New()
	})
	return global
}
