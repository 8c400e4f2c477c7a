// Package errs holds the error taxonomy shared across every dlog subsystem.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by the way a caller is expected to react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindLogNotFound
	KindPartitionNotFound
	KindInvalidOffset
	KindStorage
	KindSerialization
	KindNotLeader
	KindLeaderNotAvailable
	KindQuorumNotAvailable
	KindTimeout
	KindConsensus
	KindReplication
	KindNetwork
	KindConfig
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindLogNotFound:
		return "log_not_found"
	case KindPartitionNotFound:
		return "partition_not_found"
	case KindInvalidOffset:
		return "invalid_offset"
	case KindStorage:
		return "storage_error"
	case KindSerialization:
		return "serialization_error"
	case KindNotLeader:
		return "not_leader"
	case KindLeaderNotAvailable:
		return "leader_not_available"
	case KindQuorumNotAvailable:
		return "quorum_not_available"
	case KindTimeout:
		return "timeout"
	case KindConsensus:
		return "consensus_error"
	case KindReplication:
		return "replication_error"
	case KindNetwork:
		return "network_error"
	case KindConfig:
		return "config_error"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional leader hint, so a
// NotLeader error can point the caller at the node that should be retried.
type Error struct {
	Kind       Kind
	Message    string
	LeaderHint *uint64
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) error {
	return &Error{Kind: k, Message: msg}
}

func Wrap(k Kind, msg string, err error) error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// NotLeader builds a NotLeader error, optionally pointing at the current
// leader so the client's retry policy can target it directly.
func NotLeader(leader *uint64) error {
	return &Error{Kind: KindNotLeader, Message: "not leader for partition", LeaderHint: leader}
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
