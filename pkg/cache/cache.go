// Package cache implements the fast-path lookup table for resolved
// configuration values. Entries are keyed by dotted key paths and exist
// for every prefix of every path that has been read or written, so a
// hit is possible at any depth of the tree.
//
// The cache holds deep copies in both directions: values are copied on
// Set and copied again on Get, so no caller can alias memory owned by
// the configuration server. All methods are safe for concurrent use,
// and all methods tolerate a nil receiver by degrading to a miss.
package cache

import (
	"strings"
	"sync"

	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/tree"
)

// PathCache is a thread-safe key path to value table with prefix-aware
// invalidation. The zero value is not usable; call New.
type PathCache struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates an empty PathCache.
func New() *PathCache {
	return &PathCache{
		data: make(map[string]any),
	}
}

// Set stores a deep copy of value under path, replacing any previous
// entry. A zero path is ignored.
func (c *PathCache) Set(path keypath.Path, value any) {
	if c == nil || len(path) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[path.String()] = tree.CloneValue(value)
}

// Get retrieves a deep copy of the value cached under path.
func (c *PathCache) Get(path keypath.Path) (any, bool) {
	if c == nil || len(path) == 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.data[path.String()]
	if !ok {
		return nil, false
	}
	return tree.CloneValue(val), true
}

// Contains checks whether an entry exists for path.
func (c *PathCache) Contains(path keypath.Path) bool {
	if c == nil || len(path) == 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[path.String()]
	return ok
}

// Invalidate removes the entry for path and every entry whose path has
// it as a prefix. A subtree replacement invalidates all descendants.
func (c *PathCache) Invalidate(path keypath.Path) {
	if c == nil || len(path) == 0 {
		return
	}
	key := path.String()
	childPrefix := key + keypath.Separator

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	for k := range c.data {
		if strings.HasPrefix(k, childPrefix) {
			delete(c.data, k)
		}
	}
}

// Clear removes all entries.
func (c *PathCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]any)
}

// Len returns the number of entries.
func (c *PathCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Paths returns the key paths of all entries, in no particular order.
// This is primarily useful for testing and diagnostics.
func (c *PathCache) Paths() []keypath.Path {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]keypath.Path, 0, len(c.data))
	for k := range c.data {
		paths = append(paths, keypath.Parse(k))
	}
	return paths
}
