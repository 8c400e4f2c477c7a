package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dlog/internal/record"
)

func TestCopySetSelector_Selection(t *testing.T) {
	selector := NewCopySetSelector([]uint64{1, 2, 3, 4, 5}, 3)

	cs, ok := selector.SelectCopyset()
	require.True(t, ok, "expected a copyset")
	require.Equal(t, 3, cs.Size())
	require.True(t, cs.Contains(cs.Leader), "leader must be a member of the copyset")
}

func TestCopySetSelector_InsufficientNodes(t *testing.T) {
	selector := NewCopySetSelector([]uint64{1, 2}, 3)
	_, ok := selector.SelectCopyset()
	require.False(t, ok, "expected no copyset when cluster is smaller than replication factor")
}

func TestQuorumConfig_Validation(t *testing.T) {
	cfg := MajorityQuorum(3)
	require.NoError(t, cfg.Validate(), "expected majority quorum to validate")

	invalid := QuorumConfig{ReplicationFactor: 3, WriteQuorum: 1, ReadQuorum: 1}
	require.Error(t, invalid.Validate(), "expected non-overlapping quorum to fail validation")
}

func TestQuorumSet_Satisfaction(t *testing.T) {
	q := NewQuorumSet([]uint64{1, 2, 3}, 2)
	require.False(t, q.IsSatisfied(), "should not be satisfied yet")
	q.AddResponse(1)
	require.False(t, q.IsSatisfied(), "one response should not satisfy a quorum of 2")
	q.AddResponse(2)
	require.True(t, q.IsSatisfied(), "two responses should satisfy a quorum of 2")
}

func TestSyncManager_CommittedOffsetAndWatermark(t *testing.T) {
	s := NewSyncManager()
	s.UpdateOffset(1, 100)
	s.UpdateOffset(2, 50)
	s.UpdateOffset(3, 75)

	require.EqualValues(t, 50, s.CommittedOffset())
	require.EqualValues(t, 100, s.HighWatermark())

	lag, ok := s.Lag(2)
	require.True(t, ok)
	require.EqualValues(t, 50, lag)
}

// TestSyncManager_WaitForQuorumWakesOnAnyNode exercises the fixed behavior:
// a waiter blocked on a quorum of {1,2,3} must wake up when node 2 and node
// 3 report in, even though node 1 never does.
func TestSyncManager_WaitForQuorumWakesOnAnyNode(t *testing.T) {
	s := NewSyncManager()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.WaitForQuorum(ctx, []uint64{1, 2, 3}, 10, 2)
	}()

	time.Sleep(5 * time.Millisecond)
	s.UpdateOffset(2, 10)
	time.Sleep(5 * time.Millisecond)
	s.UpdateOffset(3, 10)

	select {
	case err := <-done:
		require.NoError(t, err, "expected quorum to be satisfied")
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("wait_for_quorum did not wake up after a majority of nodes reported in")
	}
}

type fakeReplicationTransport struct {
	mu      sync.Mutex
	fail    map[uint64]bool
	applied map[uint64]uint64
}

func newFakeReplicationTransport() *fakeReplicationTransport {
	return &fakeReplicationTransport{fail: make(map[uint64]bool), applied: make(map[uint64]uint64)}
}

func (f *fakeReplicationTransport) ReplicateBatch(_ context.Context, node uint64, _ record.PartitionID, _ []byte, lastOffset uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[node] {
		return errFakeRPC
	}
	f.applied[node] = lastOffset
	return nil
}

var errFakeRPC = &fakeRPCError{}

type fakeRPCError struct{}

func (*fakeRPCError) Error() string { return "simulated rpc failure" }

func TestManager_ReplicateWaitsForRealAcks(t *testing.T) {
	transport := newFakeReplicationTransport()
	mgr := NewManager(DefaultConfig(), []uint64{1, 2, 3, 4, 5}, transport)

	partition := record.PartitionID(0)
	copyset, ok := mgr.GetCopyset(partition)
	require.True(t, ok, "expected a copyset")

	// Fail one node in the copyset; replication must still succeed as long
	// as the write quorum (majority of 3 == 2) is reached by the rest.
	transport.fail[copyset.Nodes[0]] = true

	err := mgr.Replicate(context.Background(), partition, []byte("batch"), 42)
	require.NoError(t, err, "expected replication to reach quorum despite one failed node")

	require.EqualValues(t, 42, mgr.sync.offsets[copyset.Nodes[1]], "expected node to have its offset advanced from a real ack")
}

func TestManager_ReplicateFailsWithoutQuorum(t *testing.T) {
	transport := newFakeReplicationTransport()
	mgr := NewManager(DefaultConfig(), []uint64{1, 2, 3, 4, 5}, transport)

	partition := record.PartitionID(0)
	copyset, ok := mgr.GetCopyset(partition)
	require.True(t, ok, "expected a copyset")
	for _, n := range copyset.Nodes {
		transport.fail[n] = true
	}

	err := mgr.Replicate(context.Background(), partition, []byte("batch"), 42)
	require.Error(t, err, "expected replication to fail when no node acknowledges")
}
