package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LRUCache is a size-bounded cache backed by ristretto.
type LRUCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

// cacheItem carries the payload with its expiry.
type cacheItem struct {
	data      []byte
	expiresAt time.Time
}

// NewLRU creates a cache bounded to maxSizeMB megabytes and roughly
// maxEntries items.
func NewLRU(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*LRUCache, error) {
	// Ristretto wants ~10x counters per tracked entry.
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &LRUCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}, nil
}

// Get returns the value and true if present and unexpired.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	item, ok := val.(*cacheItem)
	if !ok {
		c.cache.Del(key)
		return nil, false
	}

	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.cache.Del(key)
		return nil, false
	}

	return item.data, true
}

// Set stores a value. A zero ttl falls back to the cache default; if that
// is also zero the entry never expires (it can still be evicted).
func (c *LRUCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	item := &cacheItem{data: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	// Cost is payload bytes. Ristretto may reject the write under
	// pressure; callers treat the cache as best effort.
	_ = c.cache.Set(key, item, int64(len(value)))

	// Make the write visible to immediate readers.
	c.cache.Wait()
}

// Delete removes one key.
func (c *LRUCache) Delete(key string) {
	c.cache.Del(key)
}

// Clear removes everything.
func (c *LRUCache) Clear() {
	c.cache.Clear()
}

// Stats returns counters for the cache admin endpoint.
func (c *LRUCache) Stats() Stats {
	m := c.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
		Items:     int64(m.KeysAdded() - m.KeysEvicted()),
	}
}

// Close releases the cache's resources.
func (c *LRUCache) Close() {
	c.cache.Close()
}
