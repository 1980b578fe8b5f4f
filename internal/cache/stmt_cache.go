// Package cache provides the per-connection prepared-statement cache. It
// maps SQL text to server-side statement names with LRU eviction; the owning
// connection supplies an eviction callback that deallocates the statement on
// the server. A cache never outlives its connection: closing the connection
// clears the cache.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

const (
	// DefaultCapacity is the default maximum number of cached statements.
	DefaultCapacity = 512
)

// EvictFunc is invoked with the server statement name whenever an entry
// leaves the cache (eviction, replacement, or Clear).
type EvictFunc func(name string)

// StmtCache stores prepared-statement names with LRU eviction.
type StmtCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List
	onEvict  EvictFunc

	// Metrics use atomics for lock-free reads.
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// cacheEntry is a single SQL-text-to-statement-name mapping.
type cacheEntry struct {
	key  string
	name string
}

// New creates a statement cache. A non-positive capacity falls back to
// DefaultCapacity. onEvict may be nil.
func New(capacity int, onEvict EvictFunc) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
		onEvict:  onEvict,
	}
}

// Get retrieves the statement name for a SQL string. A hit moves the entry
// to the front of the LRU list.
func (sc *StmtCache) Get(key string) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, exists := sc.items[key]
	if !exists {
		sc.misses.Add(1)
		return "", false
	}

	sc.lruList.MoveToFront(elem)
	sc.hits.Add(1)

	return elem.Value.(*cacheEntry).name, true
}

// Set stores the statement name for a SQL string. Replacing an existing
// entry evicts the old statement name; inserting at capacity evicts the
// least recently used entry.
func (sc *StmtCache) Set(key, name string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if elem, exists := sc.items[key]; exists {
		sc.lruList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		if entry.name != name && sc.onEvict != nil {
			sc.onEvict(entry.name)
		}
		entry.name = name
		return
	}

	if sc.lruList.Len() >= sc.capacity {
		sc.evictOldest()
	}

	elem := sc.lruList.PushFront(&cacheEntry{key: key, name: name})
	sc.items[key] = elem
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (sc *StmtCache) evictOldest() {
	elem := sc.lruList.Back()
	if elem == nil {
		return
	}

	sc.lruList.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(sc.items, entry.key)

	if sc.onEvict != nil {
		sc.onEvict(entry.name)
	}
	sc.evictions.Add(1)
}

// Clear invalidates every entry. It must be called when the owning
// connection closes so no statement name survives on a dead handle.
func (sc *StmtCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.onEvict != nil {
		for elem := sc.lruList.Front(); elem != nil; elem = elem.Next() {
			sc.onEvict(elem.Value.(*cacheEntry).name)
		}
	}

	sc.items = make(map[string]*list.Element, sc.capacity)
	sc.lruList.Init()
}

// Len returns the current number of cached statements.
func (sc *StmtCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lruList.Len()
}

// Stats holds cache performance metrics.
type Stats struct {
	Size      int     // Current number of cached statements.
	Capacity  int     // Maximum capacity.
	Hits      uint64  // Successful lookups.
	Misses    uint64  // Failed lookups.
	Evictions uint64  // Entries evicted to make room.
	HitRate   float64 // Hits / total lookups.
}

// Stats returns a snapshot of cache metrics.
func (sc *StmtCache) Stats() Stats {
	sc.mu.RLock()
	size := sc.lruList.Len()
	sc.mu.RUnlock()

	hits := sc.hits.Load()
	misses := sc.misses.Load()

	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:      size,
		Capacity:  sc.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: sc.evictions.Load(),
		HitRate:   hitRate,
	}
}
