// Package storage implements the per-partition log storage engine: a
// segment list with a write-coalescing cache in front of it, offset
// assignment, segment rolling, and range reads.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dlog/internal/errs"
	"dlog/internal/record"
	"dlog/internal/segment"
)

// SegmentInfo describes a closed, on-disk segment for retention decisions.
type SegmentInfo struct {
	BaseOffset uint64
	Size       int64
	ModTime    time.Time
	Path       string
}

// Engine owns one partition's segment list: the active segment accepting
// writes, the closed segments behind it, and the write cache staging
// appends before they're durable.
type Engine struct {
	mu sync.RWMutex

	dir       string
	topic     string
	partition uint32

	segments   []uint64 // sorted base offsets, including the active one
	active     *openSegment
	activeBase uint64

	nextOffset uint64

	cache      *SegmentCache
	writeCache *WriteCache
	cfg        Config
	logger     *zap.Logger
}

func logPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", baseOffset))
}

func indexPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", baseOffset))
}

func cacheKey(topic string, partition uint32, baseOffset uint64) string {
	return fmt.Sprintf("%s-%d-%020d", topic, partition, baseOffset)
}

// Open recovers or creates a partition's segment list under dir. cache is a
// shared, capacity-bounded LRU of closed segments; passing the same cache
// to multiple Engines lets a broker bound total open file descriptors
// across every partition it hosts.
func Open(dir, topic string, partition uint32, cfg Config, cache *SegmentCache, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	e := &Engine{
		dir:        dir,
		topic:      topic,
		partition:  partition,
		cache:      cache,
		writeCache: NewWriteCache(cfg.WriteCache),
		cfg:        cfg,
		logger:     logger.With(zap.String("topic", topic), zap.Uint32("partition", partition)),
	}

	bases, err := scanSegmentBases(dir)
	if err != nil {
		return nil, err
	}
	e.segments = bases

	if len(bases) == 0 {
		seg, idx, err := createSegmentFiles(dir, 0, cfg.Segment)
		if err != nil {
			return nil, err
		}
		e.segments = []uint64{0}
		e.active = &openSegment{seg: seg, idx: idx}
		e.activeBase = 0
		return e, nil
	}

	last := bases[len(bases)-1]
	idx, err := segment.NewIndex(indexPath(dir, last), cfg.Segment.IndexMaxBytes)
	if err != nil {
		return nil, err
	}

	knownSize := int64(0)
	nextOffset := last
	if offset, position, size, ok := idx.LastEntry(); ok {
		knownSize = int64(position) + int64(size)
		nextOffset = offset + 1

		// The last index entry may cover a whole record batch spanning
		// several logical offsets; recover the true count from the batch
		// header rather than assuming one offset per entry.
		seg, err := segment.Open(logPath(dir, last), knownSize, cfg.Segment)
		if err != nil {
			idx.Close()
			return nil, err
		}
		if raw, err := seg.Read(int64(position), int(size)); err == nil {
			if batch, err := record.DecodeBatch(raw); err == nil {
				nextOffset = offset + uint64(batch.Header.RecordsCount)
			}
		}
		e.active = &openSegment{seg: seg, idx: idx}
	} else {
		seg, err := segment.Open(logPath(dir, last), knownSize, cfg.Segment)
		if err != nil {
			idx.Close()
			return nil, err
		}
		e.active = &openSegment{seg: seg, idx: idx}
	}

	e.activeBase = last
	e.nextOffset = nextOffset

	e.logger.Info("recovered partition",
		zap.Int("segments", len(bases)),
		zap.Uint64("active_base", last),
		zap.Uint64("next_offset", nextOffset),
	)

	return e, nil
}

func createSegmentFiles(dir string, baseOffset uint64, cfg segment.Config) (*segment.Segment, *segment.Index, error) {
	seg, err := segment.Create(dir, baseOffset, cfg)
	if err != nil {
		return nil, nil, err
	}
	idx, err := segment.NewIndex(indexPath(dir, baseOffset), cfg.IndexMaxBytes)
	if err != nil {
		seg.Close()
		return nil, nil, err
	}
	return seg, idx, nil
}

func scanSegmentBases(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var bases []uint64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		base, err := strconv.ParseUint(strings.TrimSuffix(entry.Name(), ".log"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid segment filename %q: %w", entry.Name(), err)
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// Append writes a single opaque blob, assigning it the next offset.
func (e *Engine) Append(data []byte) (uint64, error) {
	return e.appendLocked(1, func(uint64) ([]byte, error) { return data, nil })
}

// AppendBatch encodes records as one record batch occupying len(records)
// consecutive offsets starting at the assigned base offset.
func (e *Engine) AppendBatch(records_ []record.Record, epoch uint64, codec record.CompressionCodec) (uint64, error) {
	if len(records_) == 0 {
		return 0, fmt.Errorf("cannot append an empty batch")
	}
	return e.appendLocked(uint32(len(records_)), func(offset uint64) ([]byte, error) {
		return record.EncodeBatch(offset, epoch, records_, codec)
	})
}

func (e *Engine) appendLocked(count uint32, build func(uint64) ([]byte, error)) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	offset := e.nextOffset
	data, err := build(offset)
	if err != nil {
		return 0, err
	}

	if !e.active.seg.CanFit(len(data)) {
		if err := e.flushLocked(); err != nil {
			return 0, err
		}
		if err := e.rollLocked(); err != nil {
			return 0, err
		}
	}

	flush := e.writeCache.Stage(offset, count, data)
	e.nextOffset += uint64(count)

	if flush {
		if err := e.flushLocked(); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// flushLocked drains the write cache into the active segment, fsyncing the
// segment before the index so a surviving index entry always implies
// durable segment bytes.
func (e *Engine) flushLocked() error {
	pending := e.writeCache.Drain()
	if len(pending) == 0 {
		return nil
	}

	for _, pw := range pending {
		if !e.active.seg.CanFit(len(pw.data)) {
			if err := e.rollLocked(); err != nil {
				return err
			}
		}
		pos, err := e.active.seg.Append(pw.data)
		if err != nil {
			return err
		}
		if err := e.active.seg.Sync(); err != nil {
			return err
		}
		if err := e.active.idx.Append(pw.offset, uint64(pos), uint32(len(pw.data))); err != nil {
			return err
		}
		if err := e.active.idx.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) rollLocked() error {
	oldBase := e.activeBase
	if err := e.active.Close(); err != nil {
		return err
	}

	newBase := e.nextOffset
	seg, idx, err := createSegmentFiles(e.dir, newBase, e.cfg.Segment)
	if err != nil {
		return err
	}

	e.segments = append(e.segments, newBase)
	e.active = &openSegment{seg: seg, idx: idx}
	e.activeBase = newBase

	e.logger.Info("rolled segment", zap.Uint64("old_base", oldBase), zap.Uint64("new_base", newBase))
	return nil
}

// Flush forces any pending writes to disk immediately.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

// HighWatermark returns the offset one past the last written record: the
// next offset Append/AppendBatch will assign.
func (e *Engine) HighWatermark() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextOffset
}

// segmentFor returns the open segment owning base, opening it from the
// shared LRU cache if it isn't the active segment.
func (e *Engine) segmentFor(base uint64) (*openSegment, error) {
	if base == e.activeBase {
		return e.active, nil
	}
	key := cacheKey(e.topic, e.partition, base)
	return e.cache.GetOrLoad(key, func() (*openSegment, error) {
		idx, err := segment.NewIndex(indexPath(e.dir, base), e.cfg.Segment.IndexMaxBytes)
		if err != nil {
			return nil, err
		}
		knownSize := int64(0)
		if _, position, size, ok := idx.LastEntry(); ok {
			knownSize = int64(position) + int64(size)
		}
		seg, err := segment.Open(logPath(e.dir, base), knownSize, e.cfg.Segment)
		if err != nil {
			idx.Close()
			return nil, err
		}
		return &openSegment{seg: seg, idx: idx}, nil
	})
}

// baseForOffset returns the base offset of the segment that would contain
// offset: the greatest recorded base <= offset.
func (e *Engine) baseForOffset(offset uint64) (uint64, bool) {
	if len(e.segments) == 0 || offset < e.segments[0] {
		return 0, false
	}
	idx := sort.Search(len(e.segments), func(i int) bool { return e.segments[i] > offset }) - 1
	if idx < 0 {
		return 0, false
	}
	return e.segments[idx], true
}

// ReadBatch returns the decoded record batch that contains offset.
func (e *Engine) ReadBatch(offset uint64) (*record.Batch, error) {
	batch, _, err := e.readBatchAt(offset)
	return batch, err
}

// readBatchAt decodes the batch covering offset and returns it alongside
// its real assigned base offset -- the offset under which it was indexed
// (or staged in the write cache), not whatever BaseOffset value happens to
// be embedded in the batch's own wire encoding. A caller that produced a
// batch without patching that field (e.g. a thin client building its own
// wire bytes) would otherwise desync offset arithmetic from the engine's
// own bookkeeping.
func (e *Engine) readBatchAt(offset uint64) (*record.Batch, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if offset >= e.nextOffset {
		return nil, 0, errs.New(errs.KindInvalidOffset, fmt.Sprintf("offset %d not yet written (high watermark %d)", offset, e.nextOffset))
	}

	if data, base, ok := e.writeCache.Lookup(offset); ok {
		batch, err := record.DecodeBatch(data)
		if err != nil {
			return nil, 0, err
		}
		batch.Header.BaseOffset = base
		return batch, base, nil
	}

	segBase, ok := e.baseForOffset(offset)
	if !ok {
		return nil, 0, errs.New(errs.KindInvalidOffset, "offset precedes earliest retained segment")
	}

	os_, err := e.segmentFor(segBase)
	if err != nil {
		return nil, 0, err
	}

	realBase, position, size, ok := os_.idx.LookupLE(offset)
	if !ok {
		return nil, 0, errs.New(errs.KindInvalidOffset, "no index entry covers offset")
	}

	raw, err := os_.seg.Read(int64(position), int(size))
	if err != nil {
		return nil, 0, err
	}
	batch, err := record.DecodeBatch(raw)
	if err != nil {
		return nil, 0, err
	}
	batch.Header.BaseOffset = realBase
	return batch, realBase, nil
}

// Read returns the raw record for offset out of its containing batch.
func (e *Engine) Read(offset uint64) (*record.Record, error) {
	batch, base, err := e.readBatchAt(offset)
	if err != nil {
		return nil, err
	}
	recs, err := batch.Records()
	if err != nil {
		return nil, err
	}
	idx := int64(offset) - int64(base)
	if idx < 0 || idx >= int64(len(recs)) {
		return nil, errs.New(errs.KindInvalidOffset, "offset not present in its batch")
	}
	return &recs[idx], nil
}

// ReadFrom accumulates consecutive record batches starting at offset up to
// maxBytes of wire-encoded data, always including at least the first batch
// to guarantee forward progress for a consumer fetch.
func (e *Engine) ReadFrom(offset uint64, maxBytes int) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if offset >= e.nextOffset {
		return nil, nil
	}

	var out []byte
	next := offset
	for next < e.nextOffset {
		base, ok := e.baseForOffset(next)
		if !ok {
			break
		}
		os_, err := e.segmentFor(base)
		if err != nil {
			return nil, err
		}
		realBase, position, size, ok := os_.idx.LookupLE(next)
		if !ok {
			break
		}
		raw, err := os_.seg.Read(int64(position), int(size))
		if err != nil {
			break
		}
		if len(out)+len(raw) > maxBytes && len(out) > 0 {
			break
		}
		out = append(out, raw...)

		batch, err := record.DecodeBatch(raw)
		if err != nil || batch.Header.RecordsCount == 0 {
			break
		}
		next = realBase + uint64(batch.Header.RecordsCount)

		if len(out) >= maxBytes {
			break
		}
	}

	return out, nil
}

// ReadRange decodes every batch whose offsets intersect [from, to).
func (e *Engine) ReadRange(from, to uint64) ([]*record.Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if from >= to {
		return nil, nil
	}

	var out []*record.Batch
	offset := from
	for offset < to && offset < e.nextOffset {
		base, ok := e.baseForOffset(offset)
		if !ok {
			break
		}
		os_, err := e.segmentFor(base)
		if err != nil {
			return nil, err
		}
		realBase, position, size, ok := os_.idx.LookupLE(offset)
		if !ok {
			break
		}
		raw, err := os_.seg.Read(int64(position), int(size))
		if err != nil {
			return nil, err
		}
		batch, err := record.DecodeBatch(raw)
		if err != nil {
			return nil, err
		}
		batch.Header.BaseOffset = realBase
		out = append(out, batch)
		offset = realBase + uint64(batch.Header.RecordsCount)
	}
	return out, nil
}

// Segments lists closed segments (never the active one) for retention.
func (e *Engine) Segments() []SegmentInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []SegmentInfo
	for _, base := range e.segments {
		if base == e.activeBase {
			continue
		}
		fi, err := os.Stat(logPath(e.dir, base))
		if err != nil {
			continue
		}
		out = append(out, SegmentInfo{BaseOffset: base, Size: fi.Size(), ModTime: fi.ModTime(), Path: logPath(e.dir, base)})
	}
	return out
}

// RetentionConfig returns the retention bounds this engine was opened with.
func (e *Engine) RetentionConfig() RetentionConfig {
	return RetentionConfig{RetentionMs: e.cfg.RetentionMs, RetentionBytes: e.cfg.RetentionBytes}
}

// DeleteSegment removes a closed segment's files. It refuses to delete the
// active segment.
func (e *Engine) DeleteSegment(base uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if base == e.activeBase {
		return fmt.Errorf("cannot delete the active segment %d", base)
	}

	e.cache.Drop(cacheKey(e.topic, e.partition, base))

	for i, b := range e.segments {
		if b == base {
			e.segments = append(e.segments[:i], e.segments[i+1:]...)
			break
		}
	}
	return segment.RemoveFiles(e.dir, base)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.flushLocked(); err != nil {
		return err
	}
	return e.active.Close()
}
