package storage

import (
	"time"

	"dlog/internal/segment"
)

// WriteCacheConfig bounds the write-coalescing cache that sits in front of
// the active segment: records stage here until either bound trips, then the
// whole batch of pending writes is drained to disk in one pass.
type WriteCacheConfig struct {
	Enabled       bool
	MaxBytes      int64
	MaxBufferTime time.Duration
}

// RetentionConfig is the subset of Config the retention package's sweeps need.
type RetentionConfig struct {
	RetentionMs    int64
	RetentionBytes int64
}

// Config controls an Engine's on-disk layout and flush behavior.
type Config struct {
	Segment        segment.Config
	WriteCache     WriteCacheConfig
	CacheCapacity  int // closed-segment LRU size; one cache can be shared by several Engines
	RetentionMs    int64
	RetentionBytes int64
}

func DefaultConfig() Config {
	return Config{
		Segment: segment.DefaultConfig(),
		WriteCache: WriteCacheConfig{
			Enabled:       true,
			MaxBytes:      64 << 10,
			MaxBufferTime: 50 * time.Millisecond,
		},
		CacheCapacity:  500,
		RetentionMs:    7 * 24 * 60 * 60 * 1000,
		RetentionBytes: -1,
	}
}
