package record

import "fmt"

// LogID names a log: a namespace plus a name, immutable once created.
type LogID struct {
	Namespace string
	Name      string
}

func (id LogID) String() string {
	return fmt.Sprintf("%s/%s", id.Namespace, id.Name)
}

// PartitionID is a 32-bit ordinal within a log.
type PartitionID uint32

// Header is a single record header (name/bytes pair).
type Header struct {
	Key   []byte
	Value []byte
}

// Record is an immutable, offset-assigned unit of data in a partition.
type Record struct {
	Offset    uint64
	Epoch     uint64
	Timestamp int64
	Key       []byte
	Value     []byte
	Headers   []Header
}
