package storage

import (
	"sync"
	"time"
)

// pendingWrite is one not-yet-flushed logical write: either a single raw
// blob (Count == 1) or an encoded record batch spanning Count offsets
// starting at Offset.
type pendingWrite struct {
	offset uint64
	count  uint32
	data   []byte
}

// WriteCache coalesces a burst of appends so the segment/index fsync pair
// happens once per flush instead of once per record, trading a small
// durability window (bounded by MaxBufferTime) for write throughput.
type WriteCache struct {
	mu       sync.Mutex
	cfg      WriteCacheConfig
	pending  []pendingWrite
	bytes    int64
	oldest   time.Time
}

func NewWriteCache(cfg WriteCacheConfig) *WriteCache {
	return &WriteCache{cfg: cfg}
}

// Stage buffers a write for later draining and reports whether the cache
// has crossed a bound and should be flushed now.
func (c *WriteCache) Stage(offset uint64, count uint32, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		c.oldest = time.Now()
	}
	c.pending = append(c.pending, pendingWrite{offset: offset, count: count, data: data})
	c.bytes += int64(len(data))

	return c.shouldFlushLocked()
}

func (c *WriteCache) ShouldFlush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldFlushLocked()
}

func (c *WriteCache) shouldFlushLocked() bool {
	if len(c.pending) == 0 {
		return false
	}
	if !c.cfg.Enabled {
		return true
	}
	if c.bytes >= c.cfg.MaxBytes {
		return true
	}
	return time.Since(c.oldest) >= c.cfg.MaxBufferTime
}

// Drain removes and returns every pending write in offset order.
func (c *WriteCache) Drain() []pendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = nil
	c.bytes = 0
	return out
}

// Lookup scans pending writes for the entry covering offset, for reads that
// must observe not-yet-flushed data. It returns the write's own assigned
// base offset alongside its bytes, since that base is the authoritative key
// for locating offset within the batch -- not whatever base the batch's
// wire encoding happens to carry.
func (c *WriteCache) Lookup(offset uint64) (data []byte, base uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.pending) - 1; i >= 0; i-- {
		p := c.pending[i]
		if offset >= p.offset && offset < p.offset+uint64(p.count) {
			return p.data, p.offset, true
		}
	}
	return nil, 0, false
}

func (c *WriteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
