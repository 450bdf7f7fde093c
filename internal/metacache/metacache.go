// Package metacache implements the per-table metadata cache: a
// reader-shared, writer-exclusive mapping from table name to
// CachedTableMetadata with TTL expiry and LRU-bounded size.
package metacache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/apache/iceberg-go"
	"golang.org/x/sync/singleflight"
)

// CachedTableMetadata is one table's cached schema, snapshot version and
// log handle. FileHandle is an opaque string (the object-store URI of
// the log entry or checkpoint the entry was loaded from) rather than a live
// handle, since the cache must never hold exclusive resources that aren't
// also recoverable from the object store.
type CachedTableMetadata struct {
	Schema          *iceberg.Schema
	SnapshotVersion int64
	FileHandle      string
	LoadedAt        time.Time
}

// entry wraps CachedTableMetadata with lifecycle-management fields:
// provenance tags, priority, and an LRU list pointer.
type entry struct {
	data CachedTableMetadata

	expiresAt time.Time
	lastUsed  time.Time
	hitCount  int64

	// sourceType and createdFrom record how this entry came to exist, as
	// passed by the caller: Put uses "registry"/"direct_access", and the
	// Commit Coordinator's schema resolution uses
	// "registry"/"schema_resolution".
	sourceType  string
	createdFrom string
	isNewTable  bool
	priority    int

	lruElement *list.Element
}

func (e *entry) isExpired() bool { return time.Now().After(e.expiresAt) }

func (e *entry) touch() {
	e.lastUsed = time.Now()
	e.hitCount++
}

func (e *entry) updatePriority() {
	switch {
	case e.isNewTable:
		e.priority = 10
	case e.hitCount > 100:
		e.priority = 8
	default:
		e.priority = 5
	}
}

// Metrics tracks cache performance.
type Metrics struct {
	Hits              int64
	Misses            int64
	Evictions         int64
	Invalidations     int64
	RefreshOperations int64
}

// Cache is a thread-safe, bounded, TTL-expiring cache of CachedTableMetadata
// keyed by table name, with LRU eviction once MaxEntries is reached.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lru     *list.List

	ttl        time.Duration
	maxEntries int

	metricsMu sync.Mutex
	metrics   Metrics

	// loadGroup collapses concurrent loaders for the same table into a
	// single in-flight call, so exactly one writer refreshes on miss
	// without every reader taking a table-wide lock.
	loadGroup singleflight.Group
}

// New returns an empty Cache with the given default TTL and entry cap.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		lru:        list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns the cached metadata for table, and whether it was found and
// unexpired. A hit moves the entry to the front of the LRU list.
func (c *Cache) Get(table string) (CachedTableMetadata, bool) {
	c.mu.RLock()
	e, ok := c.entries[table]
	c.mu.RUnlock()

	if !ok {
		c.recordMiss()
		return CachedTableMetadata{}, false
	}

	if e.isExpired() {
		c.mu.Lock()
		c.removeLocked(table, e)
		c.mu.Unlock()
		c.recordMiss()
		return CachedTableMetadata{}, false
	}

	c.mu.Lock()
	e.touch()
	c.lru.MoveToFront(e.lruElement)
	c.mu.Unlock()

	c.metricsMu.Lock()
	c.metrics.Hits++
	c.metricsMu.Unlock()

	return e.data, true
}

// Put stores metadata for table with default "registry"/"direct_access"
// provenance and the cache's configured TTL.
func (c *Cache) Put(table string, data CachedTableMetadata) {
	c.PutWithProvenance(table, data, "registry", "direct_access", false)
}

// PutWithProvenance stores metadata for table tagged with sourceType and
// createdFrom. isNewTable raises the entry's recorded priority; eviction is
// strictly LRU and does not consult priority.
func (c *Cache) PutWithProvenance(table string, data CachedTableMetadata, sourceType, createdFrom string, isNewTable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[table]; ok {
		c.removeLocked(table, existing)
	}

	if len(c.entries) >= c.maxEntries {
		c.evictLRULocked()
	}

	e := &entry{
		data:        data,
		expiresAt:   time.Now().Add(c.ttl),
		lastUsed:    time.Now(),
		sourceType:  sourceType,
		createdFrom: createdFrom,
		isNewTable:  isNewTable,
	}
	e.updatePriority()
	e.lruElement = c.lru.PushFront(table)
	c.entries[table] = e
}

// Invalidate removes table's entry, if present. The write path calls this
// immediately after a commit succeeds and before the caller's handle is
// resolved, so that the next reader reloads the authoritative post-commit
// version
// rather than observing a stale snapshot_version.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[table]; ok {
		c.removeLocked(table, e)
		c.metricsMu.Lock()
		c.metrics.Invalidations++
		c.metricsMu.Unlock()
	}
}

// Loader loads the authoritative metadata for table from the object store
// (or registry) on a cache miss.
type Loader func(ctx context.Context, table string) (CachedTableMetadata, error)

// GetOrLoad returns the cached entry for table if present and unexpired;
// otherwise it calls load exactly once even if multiple goroutines miss
// concurrently, caches the result tagged with the caller's sourceType and
// createdFrom, and returns it.
// A failed load is never cached as a negative entry: the next call simply
// retries the loader.
func (c *Cache) GetOrLoad(ctx context.Context, table string, sourceType, createdFrom string, load Loader) (CachedTableMetadata, error) {
	if data, ok := c.Get(table); ok {
		return data, nil
	}

	v, err, _ := c.loadGroup.Do(table, func() (interface{}, error) {
		data, loadErr := load(ctx, table)
		if loadErr != nil {
			return CachedTableMetadata{}, loadErr
		}
		c.PutWithProvenance(table, data, sourceType, createdFrom, false)
		return data, nil
	})
	if err != nil {
		return CachedTableMetadata{}, err
	}
	return v.(CachedTableMetadata), nil
}

// CleanupExpired scans and removes every expired entry, returning the count
// removed. Intended to be called periodically rather than relying solely on
// lazy expiry-on-Get.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for table, e := range c.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, table)
		}
	}
	for _, table := range expired {
		c.removeLocked(table, c.entries[table])
	}
	return len(expired)
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Metrics returns a snapshot of the cache's hit/miss/eviction counters.
func (c *Cache) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

func (c *Cache) recordMiss() {
	c.metricsMu.Lock()
	c.metrics.Misses++
	c.metricsMu.Unlock()
}

// removeLocked removes table's entry. Callers must hold c.mu.
func (c *Cache) removeLocked(table string, e *entry) {
	if e.lruElement != nil {
		c.lru.Remove(e.lruElement)
	}
	delete(c.entries, table)
}

// evictLRULocked evicts the entry at the back of the LRU list (the least
// recently used); entry priority is not consulted. The cache is
// entry-count bounded, not byte bounded;
// iceberg.Schema objects are small and uniform. Callers must hold c.mu.
func (c *Cache) evictLRULocked() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	table := elem.Value.(string)
	if e, ok := c.entries[table]; ok {
		c.removeLocked(table, e)
		c.metricsMu.Lock()
		c.metrics.Evictions++
		c.metricsMu.Unlock()
	}
}
