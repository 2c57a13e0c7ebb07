// Package pagecache is a page-granularity LRU cache in front of a
// memreader.Reader, reducing DMA round-trips for small repeated reads.
// Grounded on the original implementation's MemoryCache, it swaps the
// hand-rolled list+map LRU for hashicorp/golang-lru/v2/simplelru's eviction
// list and layers the page-splitting and TTL logic simplelru doesn't
// itself provide on top of it.
package pagecache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// PageSize is the fixed page granularity every key aligns to.
const PageSize = 4096

// DefaultTTL and DefaultMaxPages match the original cache's defaults.
const (
	DefaultTTL      = 100 * time.Millisecond
	DefaultMaxPages = 1024
)

type pageKey struct {
	pid      uint32
	pageBase uint64
}

type cachePage struct {
	data    [PageSize]byte
	touched time.Time
}

// Stats are the cache's running counters.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	CurrentPages int
	CurrentBytes int
}

// Cache is a thread-safe, page-aligned, TTL-bounded LRU cache. All methods
// are safe under concurrent callers; fairness across callers is not
// guaranteed, matching the single-mutex-covers-every-operation model of
// the component it's grounded on.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxPage int
	lru     *lru.LRU[pageKey, *cachePage]
	stats   Stats
	now     func() time.Time
}

// Config configures a new Cache.
type Config struct {
	TTL      time.Duration
	MaxPages int
	// Now overrides the clock, for deterministic tests. Defaults to
	// time.Now.
	Now func() time.Time
}

// New builds a Cache. Zero-value fields in cfg fall back to the component's
// documented defaults.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Cache{ttl: cfg.TTL, maxPage: cfg.MaxPages, now: cfg.Now}
	l, err := lru.NewLRU[pageKey, *cachePage](cfg.MaxPages, func(pageKey, *cachePage) {
		c.stats.Evictions++
	})
	if err != nil {
		// Only returned for a non-positive size, which New already rules out.
		panic(err)
	}
	c.lru = l
	return c
}

func alignToPage(va uint64) uint64 { return va &^ (PageSize - 1) }

// Get returns a hit only when [va, va+n) lies within a single cached,
// unexpired page; multi-page and cross-boundary requests are treated as a
// miss so the hot path stays branch-free, matching the documented rationale
// for the single-page hit policy.
func (c *Cache) Get(pid uint32, va uint64, n uint32) ([]byte, bool) {
	if n == 0 {
		return nil, false
	}
	pageBase := alignToPage(va)
	offset := va - pageBase
	if offset+uint64(n) > PageSize {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	page, ok := c.lru.Get(pageKey{pid: pid, pageBase: pageBase})
	if !ok || c.now().Sub(page.touched) >= c.ttl {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	out := make([]byte, n)
	copy(out, page.data[offset:offset+uint64(n)])
	return out, true
}

// Put splits data on page boundaries, preserving bytes already present at
// other offsets of a page it updates in place, and inserts pages that
// don't exist yet.
func (c *Cache) Put(pid uint32, va uint64, data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := data
	cur := va
	for len(remaining) > 0 {
		pageBase := alignToPage(cur)
		offset := cur - pageBase
		room := uint64(PageSize) - offset
		chunk := remaining
		if uint64(len(chunk)) > room {
			chunk = chunk[:room]
		}

		key := pageKey{pid: pid, pageBase: pageBase}
		page, ok := c.lru.Get(key)
		if !ok {
			page = &cachePage{}
			c.lru.Add(key, page)
		}
		copy(page.data[offset:], chunk)
		page.touched = c.now()

		cur += uint64(len(chunk))
		remaining = remaining[len(chunk):]
	}

	c.recomputeSize()
}

// Invalidate drops every page whose range intersects [va, va+n).
func (c *Cache) Invalidate(pid uint32, va uint64, n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := alignToPage(va)
	last := alignToPage(va + uint64(n) - 1)
	for base := first; base <= last; base += PageSize {
		c.lru.Remove(pageKey{pid: pid, pageBase: base})
	}
	c.recomputeSize()
}

// InvalidateProcess drops every entry belonging to pid.
func (c *Cache) InvalidateProcess(pid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		if key.pid == pid {
			c.lru.Remove(key)
		}
	}
	c.recomputeSize()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.stats.CurrentPages = 0
	c.stats.CurrentBytes = 0
}

// Stats returns a snapshot of the running counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// recomputeSize refreshes CurrentPages/CurrentBytes. Called with mu held.
func (c *Cache) recomputeSize() {
	c.stats.CurrentPages = c.lru.Len()
	c.stats.CurrentBytes = c.stats.CurrentPages * PageSize
}
