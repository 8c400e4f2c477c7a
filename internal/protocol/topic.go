package protocol

import (
	"encoding/binary"
	"fmt"

	"dlog/internal/record"
)

// TopicAddress identifies a log partition within a Produce/Consume request
// body: [namespace_len(2)][namespace][name_len(2)][name][partition(4)].
type TopicAddress struct {
	Log       record.LogID
	Partition record.PartitionID
}

func EncodeTopicAddress(addr TopicAddress) []byte {
	ns := []byte(addr.Log.Namespace)
	name := []byte(addr.Log.Name)

	buf := make([]byte, 2+len(ns)+2+len(name)+4)
	offset := 0
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(ns)))
	offset += 2
	copy(buf[offset:], ns)
	offset += len(ns)
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(name)))
	offset += 2
	copy(buf[offset:], name)
	offset += len(name)
	binary.BigEndian.PutUint32(buf[offset:], uint32(addr.Partition))

	return buf
}

// DecodeTopicAddress parses a TopicAddress prefix from body and returns it
// along with the number of bytes consumed.
func DecodeTopicAddress(body []byte) (TopicAddress, int, error) {
	if len(body) < 2 {
		return TopicAddress{}, 0, fmt.Errorf("topic address: body too short")
	}
	offset := 0
	nsLen := int(binary.BigEndian.Uint16(body[offset:]))
	offset += 2
	if len(body) < offset+nsLen+2 {
		return TopicAddress{}, 0, fmt.Errorf("topic address: body too short for namespace")
	}
	ns := string(body[offset : offset+nsLen])
	offset += nsLen

	nameLen := int(binary.BigEndian.Uint16(body[offset:]))
	offset += 2
	if len(body) < offset+nameLen+4 {
		return TopicAddress{}, 0, fmt.Errorf("topic address: body too short for name/partition")
	}
	name := string(body[offset : offset+nameLen])
	offset += nameLen

	partition := record.PartitionID(binary.BigEndian.Uint32(body[offset:]))
	offset += 4

	return TopicAddress{Log: record.LogID{Namespace: ns, Name: name}, Partition: partition}, offset, nil
}
