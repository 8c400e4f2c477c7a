package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Segment is a fixed-size append-only file named by its base offset, with
// an optional memory-mapped view of its current bytes. Once a successor
// segment exists, a segment is never appended to again.
type Segment struct {
	mu         sync.RWMutex
	BaseOffset uint64
	path       string
	file       *os.File
	data       []byte // mmap view; nil when mmap is disabled
	size       int64  // logical size: the valid-data watermark, not the preallocated file size
	config     Config
}

func segmentPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", baseOffset))
}

// Create opens a brand-new segment file at baseOffset with zero logical size.
func Create(dir string, baseOffset uint64, cfg Config) (*Segment, error) {
	return openSegment(segmentPath(dir, baseOffset), baseOffset, 0, cfg)
}

// Open reopens an existing segment file, parsing its base offset from the
// file name. knownSize is the logical size recovered from the segment's
// index (storage.Engine's flush syncs the segment before its index): bytes beyond it are
// an uncommitted tail from a crash between the segment write and the index
// fsync, and are discarded rather than trusted.
func Open(path string, knownSize int64, cfg Config) (*Segment, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".log")
	baseOffset, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse base offset from %q: %w", path, err)
	}
	return openSegment(path, baseOffset, knownSize, cfg)
}

func openSegment(path string, baseOffset uint64, knownSize int64, cfg Config) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < cfg.SegmentMaxBytes {
		if err := f.Truncate(cfg.SegmentMaxBytes); err != nil {
			f.Close()
			return nil, err
		}
	}

	s := &Segment{
		BaseOffset: baseOffset,
		path:       path,
		file:       f,
		size:       knownSize,
		config:     cfg,
	}

	if cfg.UseMmap {
		data, err := syscall.Mmap(int(f.Fd()), 0, int(cfg.SegmentMaxBytes), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, err
		}
		s.data = data
	}

	return s, nil
}

// CanFit reports whether n more bytes would fit without exceeding max_size.
func (s *Segment) CanFit(n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size+int64(n) <= s.config.SegmentMaxBytes
}

// Append writes b at the current tail and returns the pre-append position.
// Not safe to call concurrently with itself.
func (s *Segment) Append(b []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(b)) > s.config.SegmentMaxBytes {
		return 0, ErrSegmentFull
	}

	pos := s.size
	if s.data != nil {
		copy(s.data[pos:], b)
	} else if _, err := s.file.WriteAt(b, pos); err != nil {
		return 0, err
	}
	s.size += int64(len(b))

	if s.config.SyncOnWrite {
		if err := s.syncLocked(); err != nil {
			return 0, err
		}
	}

	return pos, nil
}

// Read returns length bytes starting at position. Prefers the mmap slice
// when present, falling back to a positional file read. The size bound is
// snapshotted before slicing so concurrent readers never observe bytes past
// a size taken before the read, even while appends are in flight.
func (s *Segment) Read(position int64, length int) ([]byte, error) {
	s.mu.RLock()
	size := s.size
	data := s.data
	s.mu.RUnlock()

	if position < 0 || position+int64(length) > size {
		return nil, ErrOffsetOutOfRange
	}

	out := make([]byte, length)
	if data != nil {
		copy(out, data[position:position+int64(length)])
		return out, nil
	}
	if _, err := s.file.ReadAt(out, position); err != nil {
		return nil, err
	}
	return out, nil
}

// Sync fdatasyncs the file (and msyncs the mmap view, if any).
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Segment) syncLocked() error {
	if s.data != nil {
		if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
			return err
		}
	}
	return s.file.Sync()
}

// Size returns the current logical size of the segment.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Segment) Path() string { return s.path }

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.data != nil {
		unix.Msync(s.data, unix.MS_SYNC)
		if e := syscall.Munmap(s.data); e != nil {
			err = e
		}
	}
	if e := s.file.Truncate(s.size); e != nil && err == nil {
		err = e
	}
	if e := s.file.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

func (s *Segment) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data != nil {
		syscall.Munmap(s.data)
	}
	s.file.Close()
	return os.Remove(s.path)
}
