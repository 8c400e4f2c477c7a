package storage

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"dlog/internal/segment"
)

// openSegment pairs a segment file with its index sidecar; the active
// segment's pair is held directly by the Engine, closed segments live here.
type openSegment struct {
	seg *segment.Segment
	idx *segment.Index
}

func (o *openSegment) Close() error {
	idxErr := o.idx.Close()
	segErr := o.seg.Close()
	if segErr != nil {
		return segErr
	}
	return idxErr
}

// SegmentCache is a shared, capacity-bounded LRU of closed segments kept
// open for reads, so a fleet of partitions doesn't exhaust file descriptors
// by holding every historical segment open. Eviction closes the segment's
// file handles and mmap before dropping it.
type SegmentCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *openSegment]
}

func NewSegmentCache(capacity int) *SegmentCache {
	if capacity <= 0 {
		capacity = 500
	}
	c, err := lru.NewWithEvict[string, *openSegment](capacity, func(_ string, seg *openSegment) {
		_ = seg.Close()
	})
	if err != nil {
		// Only returns an error for a non-positive size, which we've just
		// normalized away above.
		panic(err)
	}
	return &SegmentCache{cache: c}
}

// GetOrLoad returns the cached entry for key, or calls loader to open it and
// inserts the result, evicting the least-recently-used entry if the cache is
// full. The loader runs under the cache lock so two racing loads for the
// same key can't both open the segment.
func (c *SegmentCache) GetOrLoad(key string, loader func() (*openSegment, error)) (*openSegment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seg, ok := c.cache.Get(key); ok {
		return seg, nil
	}

	seg, err := loader()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, seg)
	return seg, nil
}

// Drop removes and closes a specific entry, used when a segment is deleted
// by retention rather than simply aged out of the cache.
func (c *SegmentCache) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

func (c *SegmentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	return nil
}
