package cache

import "time"

// Cache stores serialized values with a TTL. The control plane uses it for
// response caching on aggregate endpoints; workers use it for refresh
// stamps. Verification reads never go through a cache.
type Cache interface {
	// Get returns the value and true if present and unexpired.
	Get(key string) ([]byte, bool)

	// Set stores a value. A zero ttl means the cache default.
	Set(key string, value []byte, ttl time.Duration)

	// Delete removes one key.
	Delete(key string)

	// Clear removes everything.
	Clear()

	// Stats returns counters for the cache admin endpoint.
	Stats() Stats
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      uint64
	Misses    uint64
	KeysAdded uint64
	Evictions uint64
	Size      int64 // approximate bytes held
	Items     int64
}
