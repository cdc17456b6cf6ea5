// Package cache provides an in-memory, TTL-keyed, read-through cache
// partitioned by data category. The resolver fronts its backup-store reads
// with the bin partition so a burst of dashboard polls does not hammer the
// durable store between samples.
//
// Categories are independent namespaces with independent default TTLs, so
// flushing one category can never evict another. Values are idempotent
// re-reads of upstream state, never side-effecting computations, which is
// why duplicate computes on a concurrent miss would be acceptable; the
// implementation still dedupes in-flight computes per key since that is
// cheap inside one process.
//
// This type is safe for concurrent use. Each category holds its own lock so
// partitions never contend with each other.
package cache

import (
	"sync"
	"time"
)

// Category names a cache partition.
type Category string

// Cache partitions with their default TTLs.
const (
	CategoryBin       Category = "bin"       // 60s
	CategoryUser      Category = "user"      // 120s
	CategoryAnalytics Category = "analytics" // 180s
	CategoryGeneral   Category = "general"   // 120s
)

// DefaultTTL returns the default time-to-live for a category. Unknown
// categories fall back to the general TTL.
func DefaultTTL(cat Category) time.Duration {
	switch cat {
	case CategoryBin:
		return 60 * time.Second
	case CategoryAnalytics:
		return 180 * time.Second
	case CategoryUser, CategoryGeneral:
		return 120 * time.Second
	default:
		return 120 * time.Second
	}
}

// entry is one cached value with its expiry instant.
type entry struct {
	value     any
	expiresAt time.Time
}

// partition is one category's namespace.
type partition struct {
	mu       sync.RWMutex
	entries  map[string]entry
	inflight map[string]*sync.WaitGroup
}

func newPartition() *partition {
	return &partition{
		entries:  make(map[string]entry),
		inflight: make(map[string]*sync.WaitGroup),
	}
}

// Cache is a category-partitioned TTL cache.
type Cache struct {
	mu         sync.RWMutex
	partitions map[Category]*partition

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs an empty Cache with the standard partitions pre-created.
func New() *Cache {
	c := &Cache{
		partitions: make(map[Category]*partition, 4),
		now:        time.Now,
	}
	for _, cat := range []Category{CategoryBin, CategoryUser, CategoryAnalytics, CategoryGeneral} {
		c.partitions[cat] = newPartition()
	}
	return c
}

func (c *Cache) partition(cat Category) *partition {
	c.mu.RLock()
	p, ok := c.partitions[cat]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[cat]; ok {
		return p
	}
	p = newPartition()
	c.partitions[cat] = p
	return p
}

// Set stores value under key in the category's namespace. A ttl <= 0 uses
// the category default.
func (c *Cache) Set(cat Category, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL(cat)
	}
	p := c.partition(cat)
	p.mu.Lock()
	p.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	p.mu.Unlock()
}

// Get returns the cached value for key, or ok=false on a miss. An expired
// entry counts as a miss and is removed opportunistically.
func (c *Cache) Get(cat Category, key string) (any, bool) {
	p := c.partition(cat)

	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		p.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, still := p.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(p.entries, key)
		}
		p.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes key from the category's namespace. Removing an absent key
// is a no-op.
func (c *Cache) Delete(cat Category, key string) {
	p := c.partition(cat)
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

// FlushCategory clears every entry in one category, leaving all other
// partitions untouched. Returns the number of entries removed.
func (c *Cache) FlushCategory(cat Category) int {
	p := c.partition(cat)
	p.mu.Lock()
	n := len(p.entries)
	p.entries = make(map[string]entry)
	p.mu.Unlock()
	return n
}

// GetOrCompute returns the cached value for key, or runs fallback to
// compute, store, and return it. Within one process the fallback runs at
// most once per key per miss: concurrent callers for the same missing key
// wait for the first compute instead of duplicating it.
//
// A fallback error is returned to the caller and nothing is cached, so the
// next call retries.
func (c *Cache) GetOrCompute(cat Category, key string, ttl time.Duration, fallback func() (any, error)) (any, error) {
	for {
		if v, ok := c.Get(cat, key); ok {
			return v, nil
		}

		p := c.partition(cat)
		p.mu.Lock()
		if wg, waiting := p.inflight[key]; waiting {
			// Another goroutine is computing this key; wait and re-read.
			p.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		p.inflight[key] = wg
		p.mu.Unlock()

		v, err := fallback()

		// Cache before releasing waiters, so a woken goroutine always finds
		// the value on its re-read instead of recomputing.
		if err == nil {
			c.Set(cat, key, v, ttl)
		}
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
		wg.Done()

		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Len returns the number of live entries in a category. Expired entries
// still pending lazy removal are counted; the figure is for metrics, not
// correctness.
func (c *Cache) Len(cat Category) int {
	p := c.partition(cat)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
