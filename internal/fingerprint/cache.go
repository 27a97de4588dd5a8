// Package fingerprint implements the upload fingerprint cache: the
// process-wide record of which remote keys are already durably stored, used
// to skip re-uploading immutable SSTables that haven't changed.
package fingerprint

import (
	"context"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/objectstore"
)

// Entry is what the cache knows about one previously-uploaded remote key.
type Entry struct {
	Size       int64
	UploadedAt time.Time
}

// Cache maps remoteKey -> Entry. It is process-wide shared state: C5 and C6
// read it to decide whether a file needs uploading, and only C6 writes to
// it, on successful upload. A single sync.RWMutex backs it, following the
// same per-record locking style the rest of the pipeline uses for shared
// state (readers never block each other; a writer excludes everyone).
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{m: make(map[string]Entry)}
}

// Get reports whether remoteKey is known, and its entry if so.
func (c *Cache) Get(remoteKey string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[remoteKey]
	return e, ok
}

// Knows reports whether remoteKey is already uploaded with exactly size
// bytes — the skip-decision test SSTable identity relies on (immutable
// files are identified by name and size alone).
func (c *Cache) Knows(remoteKey string, size int64) bool {
	e, ok := c.Get(remoteKey)
	return ok && e.Size == size
}

// Put records a successful upload. Called only by the upload pipeline.
func (c *Cache) Put(remoteKey string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[remoteKey] = e
}

// Len reports how many keys are currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// LoadFromStore populates the cache at startup by listing every object
// under prefix (the token's key root) and recording its size. UploadedAt is
// set to the listed ModTime, the closest thing to an upload timestamp the
// store exposes.
func (c *Cache) LoadFromStore(ctx context.Context, objs objectstore.Store, prefix string) error {
	return objs.List(ctx, prefix, func(info objectstore.ObjectInfo) bool {
		c.Put(info.Key, Entry{Size: info.Size, UploadedAt: info.ModTime})
		return true
	})
}
