// Package partition assigns produced records to a log's partitions. It is
// deliberately stateless storage-wise — the partition itself is owned and
// served by storage.Engine; this package only answers "which one".
package partition

import (
	"math/rand"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"dlog/internal/record"
)

type Strategy int

const (
	RoundRobin Strategy = iota
	KeyHash
	Random
	Sticky
)

// Partitioner picks a target partition for a record. Safe for concurrent
// use by multiple producers.
type Partitioner struct {
	strategy       Strategy
	partitionCount uint32

	roundRobinCounter atomic.Uint32
	stickyPartition   atomic.Uint32
}

func New(strategy Strategy, partitionCount uint32) *Partitioner {
	return &Partitioner{strategy: strategy, partitionCount: partitionCount}
}

// Partition returns the destination partition for a record with the given
// key (nil if the record is unkeyed).
func (p *Partitioner) Partition(key []byte) record.PartitionID {
	switch p.strategy {
	case KeyHash:
		return p.keyHash(key)
	case Random:
		return p.random()
	case Sticky:
		return p.sticky()
	default:
		return p.roundRobin()
	}
}

func (p *Partitioner) roundRobin() record.PartitionID {
	n := p.roundRobinCounter.Add(1) - 1
	return record.PartitionID(n % p.partitionCount)
}

func (p *Partitioner) keyHash(key []byte) record.PartitionID {
	if len(key) == 0 {
		return p.roundRobin()
	}
	h := xxhash.Sum64(key)
	return record.PartitionID(h % uint64(p.partitionCount))
}

func (p *Partitioner) random() record.PartitionID {
	return record.PartitionID(rand.Uint32() % p.partitionCount)
}

func (p *Partitioner) sticky() record.PartitionID {
	return record.PartitionID(p.stickyPartition.Load())
}

// RotateSticky advances the sticky partition, called once a producer's
// current batch to that partition is complete.
func (p *Partitioner) RotateSticky() {
	for {
		cur := p.stickyPartition.Load()
		next := (cur + 1) % p.partitionCount
		if p.stickyPartition.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (p *Partitioner) PartitionCount() uint32 { return p.partitionCount }

func (p *Partitioner) AllPartitions() []record.PartitionID {
	all := make([]record.PartitionID, p.partitionCount)
	for i := range all {
		all[i] = record.PartitionID(i)
	}
	return all
}
