package broker

import (
	"context"
	"fmt"

	"dlog/internal/raft"
	"dlog/internal/record"
)

// noopTransport is the default raft.Transport wiring for a single-node
// deployment: there are no peers, so every RequestVote/AppendEntries call
// this would make is simply never dialed. A networked Transport (gRPC or
// the broker's own TCP protocol) replaces this once the config's
// Node.ClusterNodes names more than one node.
type noopTransport struct{}

func (noopTransport) RequestVote(context.Context, uint64, *raft.VoteRequest) (*raft.VoteResponse, error) {
	return nil, fmt.Errorf("no network transport configured for peer")
}

func (noopTransport) AppendEntries(context.Context, uint64, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return nil, fmt.Errorf("no network transport configured for peer")
}

// noopReplicationTransport is the equivalent stand-in for replication.Transport.
type noopReplicationTransport struct{}

func (noopReplicationTransport) ReplicateBatch(context.Context, uint64, record.PartitionID, []byte, uint64) error {
	return fmt.Errorf("no network transport configured for peer")
}
