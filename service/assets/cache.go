package assets

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrelhq/solsync/service/txsync"
)

type cacheEntry struct {
	metadata  *txsync.AssetMetadata
	expiresAt time.Time
}

// metadataCache is a size-bounded TTL cache over resolved token metadata.
// The LRU handles size pressure; expiry is checked on read.
type metadataCache struct {
	entries *lru.Cache[txsync.AssetID, cacheEntry]
	ttl     time.Duration
}

func newMetadataCache(size int, ttl time.Duration) *metadataCache {
	if size <= 0 {
		return &metadataCache{}
	}
	entries, err := lru.New[txsync.AssetID, cacheEntry](size)
	if err != nil {
		// lru.New only fails on size <= 0, which we guard above.
		panic(err)
	}
	return &metadataCache{entries: entries, ttl: ttl}
}

func (c *metadataCache) Get(id txsync.AssetID, now time.Time) (*txsync.AssetMetadata, bool) {
	if c.entries == nil {
		return nil, false
	}
	entry, ok := c.entries.Get(id)
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		c.entries.Remove(id)
		return nil, false
	}
	return entry.metadata, true
}

func (c *metadataCache) Add(id txsync.AssetID, md *txsync.AssetMetadata, now time.Time) {
	if c.entries == nil {
		return
	}
	c.entries.Add(id, cacheEntry{metadata: md, expiresAt: now.Add(c.ttl)})
}
