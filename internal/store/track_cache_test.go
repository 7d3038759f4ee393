package store

import (
	"fmt"
	"sync"
	"testing"

	"setlistify/internal/core"
)

func TestTrackCache_Basic(t *testing.T) {
	cache := NewTrackCache(100, 0.001)

	// Test empty cache
	if _, ok := cache.Get("key1"); ok {
		t.Error("Empty cache should not have any entries")
	}

	track := core.ResolvedTrack{CatalogID: "abc", DisplayName: "Song", Source: core.SourcePrimary}
	cache.Add("key1", track)

	got, ok := cache.Get("key1")
	if !ok {
		t.Fatal("Cache should have key1 after adding")
	}
	if got != track {
		t.Errorf("Get() = %+v, want %+v", got, track)
	}

	// Overwrite keeps size
	cache.Add("key1", core.NotFoundTrack(core.SetlistEntry{Name: "Song"}))
	if cache.Len() != 1 {
		t.Errorf("Cache size should still be 1 after overwrite, got %d", cache.Len())
	}
	got, _ = cache.Get("key1")
	if got.Found() {
		t.Error("Overwritten entry should be the not-found sentinel")
	}
}

func TestTrackCache_Eviction(t *testing.T) {
	cache := NewTrackCache(3, 0.01)

	for i := 0; i < 5; i++ {
		cache.Add(fmt.Sprintf("key%d", i), core.ResolvedTrack{CatalogID: fmt.Sprintf("id%d", i)})
	}

	if cache.Len() != 3 {
		t.Errorf("Cache size should be capped at 3, got %d", cache.Len())
	}
	for _, evicted := range []string{"key0", "key1"} {
		if _, ok := cache.Get(evicted); ok {
			t.Errorf("%s should have been evicted", evicted)
		}
	}
	for _, kept := range []string{"key2", "key3", "key4"} {
		if _, ok := cache.Get(kept); !ok {
			t.Errorf("%s should still be cached", kept)
		}
	}
}

func TestTrackCache_BloomRebuildKeepsEntries(t *testing.T) {
	cache := NewTrackCache(10, 0.01)

	// enough inserts to trigger several rebuilds
	for i := 0; i < 100; i++ {
		cache.Add(fmt.Sprintf("key%d", i), core.ResolvedTrack{CatalogID: fmt.Sprintf("id%d", i)})
	}

	for i := 90; i < 100; i++ {
		key := fmt.Sprintf("key%d", i)
		got, ok := cache.Get(key)
		if !ok {
			t.Fatalf("%s missing after bloom rebuild", key)
		}
		if got.CatalogID != fmt.Sprintf("id%d", i) {
			t.Errorf("Get(%s) = %s", key, got.CatalogID)
		}
	}
}

func TestTrackCache_Purge(t *testing.T) {
	cache := NewTrackCache(10, 0.01)
	cache.Add("key", core.ResolvedTrack{CatalogID: "id"})
	cache.Purge()

	if cache.Len() != 0 {
		t.Errorf("Cache size should be 0 after purge, got %d", cache.Len())
	}
	if _, ok := cache.Get("key"); ok {
		t.Error("Purged cache should not return entries")
	}
}

func TestTrackCache_Concurrent(t *testing.T) {
	cache := NewTrackCache(1000, 0.01)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				cache.Add(key, core.ResolvedTrack{CatalogID: key})
				if _, ok := cache.Get(key); !ok {
					t.Errorf("%s missing right after Add", key)
				}
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() != 800 {
		t.Errorf("Cache size should be 800, got %d", cache.Len())
	}
}

func TestTrackCache_Defaults(t *testing.T) {
	cache := NewTrackCache(0, 0)
	if cache.capacity != core.DefaultTrackCacheSize {
		t.Errorf("capacity = %d, want %d", cache.capacity, core.DefaultTrackCacheSize)
	}
	if cache.bloomFalsePositiveRate != DefaultFalsePositiveRate {
		t.Errorf("false positive rate = %v, want %v", cache.bloomFalsePositiveRate, DefaultFalsePositiveRate)
	}
}
