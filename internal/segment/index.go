package segment

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"
	"syscall"
)

// entryWidth is offset(8) + position(8) + size(4): the 20-byte triple
// format, deliberately wider than a relative-offset pair so an entry stays
// meaningful independent of the segment's base offset.
const entryWidth = 20

// Index is the mmap-backed sidecar file holding offset -> (position, size)
// triples in append order (== offset-sorted by construction).
type Index struct {
	mu   sync.RWMutex
	file *os.File
	data []byte
	size int64 // used bytes
}

func NewIndex(path string, maxBytes int64) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// Close truncates the file to its used bytes, so a reopened index takes
	// its entries back from the file length; zeroed (size == 0) trailing
	// slots of a file left at its preallocated length are trimmed off below.
	used := fi.Size()
	if used > maxBytes {
		used = maxBytes
	}
	used -= used % entryWidth

	if fi.Size() < maxBytes {
		if err := f.Truncate(maxBytes); err != nil {
			f.Close()
			return nil, err
		}
	}

	data, err := syscall.Mmap(
		int(f.Fd()), 0, int(maxBytes),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, err
	}

	idx := &Index{file: f, data: data}
	for used > 0 && binary.LittleEndian.Uint32(data[used-4:]) == 0 {
		used -= entryWidth
	}
	idx.size = used
	return idx, nil
}

// Append writes (offset, position, size) as the next entry.
func (i *Index) Append(offset uint64, position uint64, size uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.size+entryWidth > int64(len(i.data)) {
		return ErrIndexFull
	}

	binary.LittleEndian.PutUint64(i.data[i.size:], offset)
	binary.LittleEndian.PutUint64(i.data[i.size+8:], position)
	binary.LittleEndian.PutUint32(i.data[i.size+16:], size)
	i.size += entryWidth
	return nil
}

func (i *Index) entryAt(n int64) (offset, position uint64, size uint32) {
	base := n * entryWidth
	offset = binary.LittleEndian.Uint64(i.data[base:])
	position = binary.LittleEndian.Uint64(i.data[base+8:])
	size = binary.LittleEndian.Uint32(i.data[base+16:])
	return
}

// Lookup returns the exact entry for offset, if present.
func (i *Index) Lookup(offset uint64) (position uint64, size uint32, ok bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries := int(i.size / entryWidth)
	idx := sort.Search(entries, func(n int) bool {
		o, _, _ := i.entryAt(int64(n))
		return o >= offset
	})
	if idx >= entries {
		return 0, 0, false
	}
	o, p, s := i.entryAt(int64(idx))
	if o != offset {
		return 0, 0, false
	}
	return p, s, true
}

// LookupLE returns the greatest entry whose offset is <= the target,
// mirroring a BTreeMap range(..=offset).next_back() lookup.
func (i *Index) LookupLE(offset uint64) (foundOffset, position uint64, size uint32, ok bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries := int(i.size / entryWidth)
	if entries == 0 {
		return 0, 0, 0, false
	}

	idx := sort.Search(entries, func(n int) bool {
		o, _, _ := i.entryAt(int64(n))
		return o > offset
	}) - 1
	if idx < 0 {
		return 0, 0, 0, false
	}
	o, p, s := i.entryAt(int64(idx))
	return o, p, s, true
}

// LastEntry returns the most recently appended entry.
func (i *Index) LastEntry() (offset, position uint64, size uint32, ok bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.size == 0 {
		return 0, 0, 0, false
	}
	o, p, s := i.entryAt(i.size/entryWidth - 1)
	return o, p, s, true
}

// Truncate resizes the logical used-bytes counter, discarding any entries
// past size. Used during recovery when the log is shorter than the index.
func (i *Index) Truncate(size int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if size > int64(len(i.data)) {
		return io.ErrShortBuffer
	}
	i.size = size
	return nil
}

func (i *Index) Sync() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.file.Sync()
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	syscall.Munmap(i.data)
	i.file.Truncate(i.size)
	return i.file.Close()
}

func (i *Index) Delete() error {
	path := i.file.Name()
	syscall.Munmap(i.data)
	i.file.Close()
	return os.Remove(path)
}
