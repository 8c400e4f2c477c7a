package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	ErrInsufficientData = errors.New("insufficient data to decode record batch")
	ErrInvalidMagic     = errors.New("invalid magic byte (expected 2)")
	ErrCRCMismatch      = errors.New("crc mismatch")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

const (
	batchHeaderSize = 61
)

// BatchHeader is the fixed-size header of a Kafka-compatible RecordBatch
// (magic v2). PartitionLeaderEpoch doubles as the dlog epoch stamp,
// truncated to 32 bits on the wire — the full 64-bit epoch.Epoch value
// lives in the epoch store, not on every batch.
type BatchHeader struct {
	BaseOffset           uint64
	BatchLength          int32
	PartitionLeaderEpoch int32
	Magic                int8
	CRC                  uint32
	Attributes           int16
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	RecordsCount         int32
}

// Batch wraps a decoded header with its still-compressed record payload.
type Batch struct {
	Header  BatchHeader
	Payload []byte
}

func (h BatchHeader) Compression() CompressionCodec {
	return CompressionCodec(h.Attributes & compressionMask)
}

// EncodeBatch serializes records into a self-describing, CRC-checked batch.
// baseOffset becomes the wire BaseOffset; epoch is truncated into
// PartitionLeaderEpoch.
func EncodeBatch(baseOffset uint64, epoch uint64, records []Record, codec CompressionCodec) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("cannot encode an empty batch")
	}

	baseTimestamp := records[0].Timestamp

	var recordsBuf []byte
	for i, r := range records {
		recordsBuf = append(recordsBuf, encodeRecord(i, baseTimestamp, r)...)
	}

	payload, err := compress(codec, recordsBuf)
	if err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}

	header := make([]byte, batchHeaderSize)
	totalSize := batchHeaderSize + len(payload)
	batchLength := int32(totalSize - 12)

	binary.BigEndian.PutUint64(header[0:8], baseOffset)
	binary.BigEndian.PutUint32(header[8:12], uint32(batchLength))
	binary.BigEndian.PutUint32(header[12:16], uint32(epoch))
	header[16] = 2 // magic

	binary.BigEndian.PutUint16(header[21:23], uint16(int16(codec)&compressionMask))
	binary.BigEndian.PutUint32(header[23:27], uint32(len(records)-1))
	binary.BigEndian.PutUint64(header[27:35], uint64(baseTimestamp))
	binary.BigEndian.PutUint64(header[35:43], uint64(records[len(records)-1].Timestamp))
	binary.BigEndian.PutUint64(header[43:51], ^uint64(0))
	binary.BigEndian.PutUint16(header[51:53], ^uint16(0))
	binary.BigEndian.PutUint32(header[53:57], ^uint32(0))
	binary.BigEndian.PutUint32(header[57:61], uint32(len(records)))

	full := append(header, payload...)
	crc := crc32.Checksum(full[21:], crcTable)
	binary.BigEndian.PutUint32(full[17:21], crc)

	return full, nil
}

// DecodeBatch parses and CRC-validates the fixed header, returning a
// zero-copy view over the (still compressed) payload.
func DecodeBatch(data []byte) (*Batch, error) {
	if len(data) < batchHeaderSize {
		return nil, ErrInsufficientData
	}

	h := BatchHeader{}
	h.BaseOffset = binary.BigEndian.Uint64(data[0:8])
	h.BatchLength = int32(binary.BigEndian.Uint32(data[8:12]))

	if int64(len(data)) < int64(h.BatchLength)+12 {
		return nil, ErrInsufficientData
	}

	h.PartitionLeaderEpoch = int32(binary.BigEndian.Uint32(data[12:16]))
	h.Magic = int8(data[16])
	if h.Magic != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMagic, h.Magic)
	}

	h.CRC = binary.BigEndian.Uint32(data[17:21])
	h.Attributes = int16(binary.BigEndian.Uint16(data[21:23]))
	h.LastOffsetDelta = int32(binary.BigEndian.Uint32(data[23:27]))
	h.BaseTimestamp = int64(binary.BigEndian.Uint64(data[27:35]))
	h.MaxTimestamp = int64(binary.BigEndian.Uint64(data[35:43]))
	h.ProducerID = int64(binary.BigEndian.Uint64(data[43:51]))
	h.ProducerEpoch = int16(binary.BigEndian.Uint16(data[51:53]))
	h.BaseSequence = int32(binary.BigEndian.Uint32(data[53:57]))
	h.RecordsCount = int32(binary.BigEndian.Uint32(data[57:61]))

	payloadEnd := 12 + int(h.BatchLength)

	calcCRC := crc32.Checksum(data[21:payloadEnd], crcTable)
	if calcCRC != h.CRC {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrCRCMismatch, h.CRC, calcCRC)
	}

	return &Batch{Header: h, Payload: data[batchHeaderSize:payloadEnd]}, nil
}

// Size is the total on-disk footprint of the batch, header included.
func (b *Batch) Size() int {
	return 12 + int(b.Header.BatchLength)
}

// Records decompresses the payload (if needed) and materializes every
// record in the batch in order.
func (b *Batch) Records() ([]Record, error) {
	raw, err := decompress(b.Header.Compression(), b.Payload)
	if err != nil {
		return nil, fmt.Errorf("decompress batch: %w", err)
	}

	it := &Iterator{
		data:          raw,
		recordsLeft:   b.Header.RecordsCount,
		baseOffset:    b.Header.BaseOffset,
		baseTimestamp: b.Header.BaseTimestamp,
		epoch:         uint64(uint32(b.Header.PartitionLeaderEpoch)),
	}

	out := make([]Record, 0, b.Header.RecordsCount)
	var r Record
	for it.Next(&r) {
		cp := r
		cp.Key = append([]byte(nil), r.Key...)
		cp.Value = append([]byte(nil), r.Value...)
		out = append(out, cp)
	}
	return out, nil
}

func encodeRecord(deltaOffset int, baseTimestamp int64, r Record) []byte {
	var body []byte
	var buf [10]byte

	body = append(body, 0) // attributes

	n := binary.PutVarint(buf[:], r.Timestamp-baseTimestamp)
	body = append(body, buf[:n]...)

	n = binary.PutVarint(buf[:], int64(deltaOffset))
	body = append(body, buf[:n]...)

	if r.Key == nil {
		n = binary.PutVarint(buf[:], -1)
		body = append(body, buf[:n]...)
	} else {
		n = binary.PutVarint(buf[:], int64(len(r.Key)))
		body = append(body, buf[:n]...)
		body = append(body, r.Key...)
	}

	if r.Value == nil {
		n = binary.PutVarint(buf[:], -1)
		body = append(body, buf[:n]...)
	} else {
		n = binary.PutVarint(buf[:], int64(len(r.Value)))
		body = append(body, buf[:n]...)
		body = append(body, r.Value...)
	}

	n = binary.PutVarint(buf[:], int64(len(r.Headers)))
	body = append(body, buf[:n]...)
	for _, h := range r.Headers {
		n = binary.PutVarint(buf[:], int64(len(h.Key)))
		body = append(body, buf[:n]...)
		body = append(body, h.Key...)
		n = binary.PutVarint(buf[:], int64(len(h.Value)))
		body = append(body, buf[:n]...)
		body = append(body, h.Value...)
	}

	recLen := int64(len(body))
	n = binary.PutVarint(buf[:], recLen)

	final := make([]byte, n+len(body))
	copy(final, buf[:n])
	copy(final[n:], body)
	return final
}
