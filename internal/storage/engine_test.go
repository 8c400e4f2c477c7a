package storage

import (
	"testing"
	"time"

	"dlog/internal/record"
)

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.Segment.SegmentMaxBytes = 4096
	cfg.Segment.IndexMaxBytes = 4096
	cfg.WriteCache.Enabled = false // flush on every append to simplify assertions
	return cfg
}

func mustOpen(t *testing.T, dir string, cfg Config) *Engine {
	t.Helper()
	e, err := Open(dir, "orders", 0, cfg, NewSegmentCache(16), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return e
}

func TestEngine_AppendBatchAndRead(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir, testEngineConfig())
	defer e.Close()

	records := []record.Record{
		{Timestamp: time.Now().UnixMilli(), Key: []byte("k1"), Value: []byte("v1")},
		{Timestamp: time.Now().UnixMilli(), Key: []byte("k2"), Value: []byte("v2")},
	}

	base, err := e.AppendBatch(records, 1, record.CompressionNone)
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected base offset 0, got %d", base)
	}
	if hw := e.HighWatermark(); hw != 2 {
		t.Fatalf("high watermark = %d, want 2", hw)
	}

	r, err := e.Read(1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(r.Value) != "v2" {
		t.Errorf("record 1 value = %q, want v2", r.Value)
	}
}

func TestEngine_RollsSegmentWhenFull(t *testing.T) {
	dir := t.TempDir()
	cfg := testEngineConfig()
	cfg.Segment.SegmentMaxBytes = 200
	e := mustOpen(t, dir, cfg)
	defer e.Close()

	for i := 0; i < 20; i++ {
		records := []record.Record{{Timestamp: time.Now().UnixMilli(), Value: []byte("payload-value")}}
		if _, err := e.AppendBatch(records, 1, record.CompressionNone); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if len(e.segments) < 2 {
		t.Fatalf("expected multiple segments after rolling, got %d", len(e.segments))
	}

	r, err := e.Read(0)
	if err != nil {
		t.Fatalf("read offset 0 from rolled-away segment: %v", err)
	}
	if string(r.Value) != "payload-value" {
		t.Errorf("unexpected value %q", r.Value)
	}

	last, err := e.Read(19)
	if err != nil {
		t.Fatalf("read last offset: %v", err)
	}
	if string(last.Value) != "payload-value" {
		t.Errorf("unexpected value %q", last.Value)
	}
}

func TestEngine_ReadRange(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir, testEngineConfig())
	defer e.Close()

	for i := 0; i < 5; i++ {
		records := []record.Record{{Timestamp: time.Now().UnixMilli(), Value: []byte("r")}}
		if _, err := e.AppendBatch(records, 1, record.CompressionNone); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	batches, err := e.ReadRange(1, 4)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches in range [1,4), got %d", len(batches))
	}
}

func TestEngine_RecoversNextOffsetAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testEngineConfig()

	e := mustOpen(t, dir, cfg)
	for i := 0; i < 3; i++ {
		records := []record.Record{{Timestamp: time.Now().UnixMilli(), Value: []byte("x")}}
		if _, err := e.AppendBatch(records, 1, record.CompressionNone); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := mustOpen(t, dir, cfg)
	defer reopened.Close()

	if hw := reopened.HighWatermark(); hw != 3 {
		t.Fatalf("recovered high watermark = %d, want 3", hw)
	}
}

func TestEngine_ReadOffsetNotYetWritten(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir, testEngineConfig())
	defer e.Close()

	if _, err := e.Read(0); err == nil {
		t.Fatalf("expected error reading unwritten offset")
	}
}

func TestEngine_WriteCacheCoalescesBeforeFlush(t *testing.T) {
	dir := t.TempDir()
	cfg := testEngineConfig()
	cfg.WriteCache.Enabled = true
	cfg.WriteCache.MaxBytes = 1 << 20
	cfg.WriteCache.MaxBufferTime = time.Hour
	e := mustOpen(t, dir, cfg)
	defer e.Close()

	records := []record.Record{{Timestamp: time.Now().UnixMilli(), Value: []byte("cached")}}
	if _, err := e.AppendBatch(records, 1, record.CompressionNone); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Not yet flushed to the segment, but still readable via the cache.
	if e.writeCache.Len() != 1 {
		t.Fatalf("expected 1 pending write cache entry, got %d", e.writeCache.Len())
	}
	r, err := e.Read(0)
	if err != nil {
		t.Fatalf("read from write cache: %v", err)
	}
	if string(r.Value) != "cached" {
		t.Errorf("value = %q, want cached", r.Value)
	}

	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if e.writeCache.Len() != 0 {
		t.Errorf("expected write cache drained after flush")
	}
}
