package backup

import (
	"context"
	"sync"
	"time"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/objectstore"
)

// Fingerprint records what is known about an already-uploaded object.
// Size is the uncompressed byte count, or -1 when the entry was primed
// from a listing, which only sees the stored (compressed) size.
type Fingerprint struct {
	Size       int64
	UploadedAt time.Time
}

// FingerprintCache is the process-wide dedup index keyed by remote key.
// SSTables are immutable and the key embeds their mtime, so presence of
// the key is sound identity; the size check is an extra guard when the
// uncompressed size is known.
type FingerprintCache struct {
	mu sync.RWMutex
	m  map[string]Fingerprint
}

func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{m: make(map[string]Fingerprint)}
}

// Prime populates the cache by listing everything under the token's key
// prefix. Manifest objects are indexed too; they are harmless and make a
// re-primed cache self-consistent.
func (c *FingerprintCache) Prime(ctx context.Context, store objectstore.Store, loc core.Location) (int, error) {
	primed := 0
	err := store.List(ctx, loc.TokenPrefix()+"/", func(info objectstore.ObjectInfo) error {
		c.mu.Lock()
		c.m[info.Key] = Fingerprint{Size: -1, UploadedAt: info.ModTime}
		c.mu.Unlock()
		primed++
		return nil
	})
	if err != nil {
		return primed, err
	}
	return primed, nil
}

// Contains reports whether key is known with a compatible size. Entries
// of unknown size match any size.
func (c *FingerprintCache) Contains(key string, size int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.m[key]
	if !ok {
		return false
	}
	return fp.Size < 0 || fp.Size == size
}

// Record is called by the upload pipeline on successful upload, the only
// mutation path besides priming.
func (c *FingerprintCache) Record(key string, size int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = Fingerprint{Size: size, UploadedAt: at}
}

func (c *FingerprintCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
