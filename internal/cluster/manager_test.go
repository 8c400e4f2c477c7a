package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dlog/internal/raft"
	"dlog/internal/record"
)

// singleNodeTransport satisfies raft.Transport for a cluster with no peers,
// so the node under test can win an election and commit entries to itself
// without needing a multi-node fake.
type singleNodeTransport struct{}

func (singleNodeTransport) RequestVote(context.Context, uint64, *raft.VoteRequest) (*raft.VoteResponse, error) {
	return nil, fmt.Errorf("no peers")
}
func (singleNodeTransport) AppendEntries(context.Context, uint64, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return nil, fmt.Errorf("no peers")
}

func newSingleNodeRaft(t *testing.T) *raft.Node {
	t.Helper()
	log, err := raft.OpenRaftLog(filepath.Join(t.TempDir(), "raft-state.json"))
	require.NoError(t, err)
	node, err := raft.NewNode(raft.DefaultConfig(1, nil), log, singleNodeTransport{}, nil)
	require.NoError(t, err)
	return node
}

func TestManager_ApplyCommitted_CreateAndDeleteLog(t *testing.T) {
	n := newSingleNodeRaft(t)
	mgr := NewManager(1, n)

	id := record.LogID{Namespace: "ns", Name: "orders"}
	meta := LogMetadata{ID: id, PartitionCount: 4, ReplicationFactor: 3, Config: DefaultLogConfig()}

	data := mustEncode(t, change{Kind: changeCreateLog, Log: &meta})
	require.NoError(t, mgr.ApplyCommitted(1, data))

	got, ok := mgr.GetLog(id)
	require.True(t, ok, "expected log to be registered")
	require.EqualValues(t, 4, got.PartitionCount)

	deleteData := mustEncode(t, change{Kind: changeDeleteLog, LogID: &id})
	require.NoError(t, mgr.ApplyCommitted(2, deleteData))

	_, ok = mgr.GetLog(id)
	require.False(t, ok, "expected log to be removed after delete")
	require.EqualValues(t, 2, mgr.AppliedIndex())
}

func TestManager_PartitionLeadership(t *testing.T) {
	n := newSingleNodeRaft(t)
	mgr := NewManager(1, n)

	data := mustEncode(t, change{Kind: changeAssign, Partition: record.PartitionID(0), Nodes: []uint64{1, 2, 3}})
	require.NoError(t, mgr.ApplyCommitted(1, data))

	require.True(t, mgr.IsPartitionLeader(record.PartitionID(0)), "expected node 1 to be leader of partition 0")

	otherMgr := NewManager(2, n)
	require.NoError(t, otherMgr.ApplyCommitted(1, data))
	require.False(t, otherMgr.IsPartitionLeader(record.PartitionID(0)), "node 2 should not consider itself leader")
}

func mustEncode(t *testing.T, c change) []byte {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return data
}
