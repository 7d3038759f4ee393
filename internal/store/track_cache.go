package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"setlistify/internal/core"
)

// DefaultFalsePositiveRate is the Bloom filter target used by NewTrackCache callers that have no preference.
const DefaultFalsePositiveRate = 0.01

// TrackCache is a thread-safe bounded cache of track resolutions.
// The Bloom filter answers most misses without taking the LRU lock path.
type TrackCache struct {
	mutex                  sync.RWMutex
	bloom                  *bloom.BloomFilter
	lru                    *lru.Cache[string, core.ResolvedTrack]
	capacity               int
	bloomFalsePositiveRate float64
	// keys added to the current filter; evictions leave stale bits behind
	bloomInserts int
}

// NewTrackCache creates a cache holding up to capacity resolutions.
func NewTrackCache(capacity int, bloomFalsePositiveRate float64) *TrackCache {
	if capacity <= 0 {
		capacity = core.DefaultTrackCacheSize
	}
	if bloomFalsePositiveRate <= 0 || bloomFalsePositiveRate >= 1 {
		bloomFalsePositiveRate = DefaultFalsePositiveRate
	}

	lruCache, _ := lru.New[string, core.ResolvedTrack](capacity)

	return &TrackCache{
		bloom:                  bloom.NewWithEstimates(uint(capacity), bloomFalsePositiveRate), //nolint:gosec // capacity is positive
		lru:                    lruCache,
		capacity:               capacity,
		bloomFalsePositiveRate: bloomFalsePositiveRate,
	}
}

// Get returns the cached resolution for key.
func (c *TrackCache) Get(key string) (core.ResolvedTrack, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloom.TestString(key) {
		return core.ResolvedTrack{}, false
	}
	return c.lru.Get(key)
}

// Add stores a resolution, evicting the least recently used entry when full.
func (c *TrackCache) Add(key string, track core.ResolvedTrack) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lru.Contains(key) {
		c.lru.Add(key, track)
		return
	}

	c.lru.Add(key, track)
	c.bloom.AddString(key)
	c.bloomInserts++

	if c.bloomInserts > 2*c.capacity {
		c.rebuildBloom()
	}
}

// Len returns the number of cached resolutions.
func (c *TrackCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lru.Len()
}

// Purge removes every entry.
func (c *TrackCache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.lru.Purge()
	c.bloom = bloom.NewWithEstimates(uint(c.capacity), c.bloomFalsePositiveRate) //nolint:gosec // capacity is positive
	c.bloomInserts = 0
}

// rebuildBloom drops bits left by evicted keys.
func (c *TrackCache) rebuildBloom() {
	c.bloom = bloom.NewWithEstimates(uint(c.capacity), c.bloomFalsePositiveRate) //nolint:gosec // capacity is positive
	keys := c.lru.Keys()
	for _, k := range keys {
		c.bloom.AddString(k)
	}
	c.bloomInserts = len(keys)
}
