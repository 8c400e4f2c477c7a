package record

import "encoding/binary"

// Iterator walks a decompressed record payload without allocating per
// record; only Records() (which copies out of the iterator) allocates.
type Iterator struct {
	data          []byte
	offset        int
	recordsLeft   int32
	baseOffset    uint64
	baseTimestamp int64
	epoch         uint64
}

// Next decodes the next record into out, returning false once exhausted or
// on a malformed payload.
func (it *Iterator) Next(out *Record) bool {
	if it.recordsLeft <= 0 || it.offset >= len(it.data) {
		return false
	}

	recLen, n := binary.Varint(it.data[it.offset:])
	if n <= 0 {
		return false
	}
	it.offset += n

	recordEnd := it.offset + int(recLen)
	if recordEnd > len(it.data) {
		return false
	}

	it.offset++ // attributes byte, unused

	tsDelta, n := binary.Varint(it.data[it.offset:])
	it.offset += n

	offDelta, n := binary.Varint(it.data[it.offset:])
	it.offset += n

	keyLen, n := binary.Varint(it.data[it.offset:])
	it.offset += n
	var key []byte
	if keyLen >= 0 {
		key = it.data[it.offset : it.offset+int(keyLen)]
		it.offset += int(keyLen)
	}

	valLen, n := binary.Varint(it.data[it.offset:])
	it.offset += n
	var value []byte
	if valLen >= 0 {
		value = it.data[it.offset : it.offset+int(valLen)]
		it.offset += int(valLen)
	}

	hCount, n := binary.Varint(it.data[it.offset:])
	it.offset += n

	var headers []Header
	for i := int64(0); i < hCount && it.offset < recordEnd; i++ {
		hKeyLen, n := binary.Varint(it.data[it.offset:])
		it.offset += n
		var hKey []byte
		if hKeyLen > 0 {
			hKey = it.data[it.offset : it.offset+int(hKeyLen)]
			it.offset += int(hKeyLen)
		}
		hValLen, n := binary.Varint(it.data[it.offset:])
		it.offset += n
		var hVal []byte
		if hValLen > 0 {
			hVal = it.data[it.offset : it.offset+int(hValLen)]
			it.offset += int(hValLen)
		}
		headers = append(headers, Header{Key: hKey, Value: hVal})
	}

	out.Offset = it.baseOffset + uint64(offDelta)
	out.Epoch = it.epoch
	out.Timestamp = it.baseTimestamp + tsDelta
	out.Key = key
	out.Value = value
	out.Headers = headers

	it.offset = recordEnd
	it.recordsLeft--
	return true
}
