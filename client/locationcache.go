package client

import (
	"sync"
	"time"

	"gfscore/apis"
)

// locationCache remembers a chunk's last-known replica set until its lease
// expires, so repeated writes to the same chunk (the common case for
// sequential writers and appenders) don't re-fetch locations on every call.
// A read-only lookup (no live lease) is never cached, since there is
// nothing bounding how long it stays accurate.
type locationCache struct {
	mu      sync.Mutex
	entries map[apis.ChunkHandle]cachedLocation
}

type cachedLocation struct {
	loc     apis.ChunkLocations
	expires time.Time
}

func newLocationCache() *locationCache {
	return &locationCache{entries: make(map[apis.ChunkHandle]cachedLocation)}
}

func (c *locationCache) get(handle apis.ChunkHandle, now time.Time) (apis.ChunkLocations, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[handle]
	if !ok || !now.Before(e.expires) {
		return apis.ChunkLocations{}, false
	}
	return e.loc, true
}

func (c *locationCache) set(loc apis.ChunkLocations) {
	if loc.Primary == "" || loc.LeaseExpiry.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[loc.Handle] = cachedLocation{loc: loc, expires: loc.LeaseExpiry}
}

func (c *locationCache) invalidate(handle apis.ChunkHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, handle)
}
