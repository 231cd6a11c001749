package diskstore

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// cachedFile is the value stored in the fdCache: an open *os.File plus
// the key it belongs to, so the eviction callback can clear the
// entry's dangling fd pointer.
type cachedFile struct {
	key  ChunkKey
	file *os.File
}

// fdCache is the bounded LRU of lingering open file descriptors
// (spec.md §4.2: "the FD may linger in an LRU of ≤ 1024 entries").
// Eviction closes the underlying fd; a chunk that is reopened after
// eviction pays the cost of a fresh os.Open.
type fdCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newFDCache(size int) *fdCache {
	c := &fdCache{}
	// NewWithEvict's callback fires synchronously on Add-triggered
	// eviction and on explicit Remove, so it is the single place fds
	// get closed once they leave the cache.
	cache, _ := lru.NewWithEvict(size, func(_, value interface{}) {
		if cf, ok := value.(*cachedFile); ok && cf.file != nil {
			_ = cf.file.Close()
		}
	})
	c.cache = cache
	return c
}

// put inserts or replaces the cached fd for key.
func (c *fdCache) put(key ChunkKey, f *os.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, &cachedFile{key: key, file: f})
}

// get returns the cached fd for key, promoting it to most-recently-used.
func (c *fdCache) get(key ChunkKey) (*os.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*cachedFile).file, true
}

// remove evicts key's fd (closing it) if present, without affecting
// the LRU ordering of other entries.
func (c *fdCache) remove(key ChunkKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// len reports the number of fds currently cached, for tests.
func (c *fdCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
