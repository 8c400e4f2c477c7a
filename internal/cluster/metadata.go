// Package cluster owns the log/partition registry: which logs exist, how
// many partitions and replicas each has, and which nodes currently host
// each partition. Membership changes flow through the raft metadata log so
// every node's registry converges to the same view.
package cluster

import (
	"time"

	"dlog/internal/record"
)

type RetentionKind int

const (
	RetentionForever RetentionKind = iota
	RetentionTime
	RetentionSize
	RetentionTimeAndSize
)

type RetentionPolicy struct {
	Kind     RetentionKind
	MaxAge   time.Duration
	MaxBytes int64
}

type LogConfig struct {
	SegmentSize          int64
	FlushInterval        time.Duration
	CompressionEnabled   bool
	TieredStorageEnabled bool
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		SegmentSize:        1 << 30,
		FlushInterval:      time.Second,
		CompressionEnabled: true,
	}
}

// LogMetadata describes a log's shape: how it's partitioned, replicated,
// and retained. This is the unit replicated through the metadata Raft log.
type LogMetadata struct {
	ID                record.LogID
	PartitionCount    uint32
	ReplicationFactor uint32
	Retention         RetentionPolicy
	Config            LogConfig
}
