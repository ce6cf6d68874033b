package toolset

import "sync"

// Entry holds the callable tools of one connection, keyed by slug.
type Entry struct {
	Tools map[string]*CallableTool
}

// Cache is the process-local callable-toolset cache. Each runtime instance
// owns exactly one cache; entries are replaced or deleted whole, never edited
// in place.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Get returns the cached entry for a connection, if present.
func (c *Cache) Get(connectionID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[connectionID]
	return entry, ok
}

// Put replaces the entry for a connection.
func (c *Cache) Put(connectionID string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[connectionID] = entry
}

// Invalidate drops one connection's entry. The next resolution re-fetches it.
func (c *Cache) Invalidate(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, connectionID)
}

// InvalidateAll drops every entry. Used when a thread tool-set change may
// reference connections not yet resolved.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len returns the number of cached connections.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
