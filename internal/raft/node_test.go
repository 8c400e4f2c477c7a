package raft

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, id uint64, peers []uint64, transport Transport) *Node {
	t.Helper()
	log, err := OpenRaftLog(filepath.Join(t.TempDir(), "raft-state.json"))
	require.NoError(t, err)
	cfg := DefaultConfig(id, peers)
	node, err := NewNode(cfg, log, transport, nil)
	require.NoError(t, err)
	return node
}

func newTestCluster(t *testing.T, ids []uint64) (map[uint64]*Node, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	nodes := make(map[uint64]*Node, len(ids))
	for _, id := range ids {
		peers := make([]uint64, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		node := newTestNode(t, id, peers, transport)
		nodes[id] = node
		transport.register(node)
	}
	return nodes, transport
}

func TestNode_StartElectionWinsWithMajority(t *testing.T) {
	nodes, _ := newTestCluster(t, []uint64{1, 2, 3})

	nodes[1].startElection()

	require.True(t, nodes[1].IsLeader(), "expected node 1 to become leader")
	require.False(t, nodes[2].IsLeader() || nodes[3].IsLeader(), "only one node should be leader")
	require.EqualValues(t, 1, nodes[1].CurrentTerm())
}

func TestNode_StartElectionFailsWithoutMajority(t *testing.T) {
	// 5-node cluster, 3 of node 1's 4 peers unreachable: candidate only has
	// its own vote plus node 2's, the one live peer — 2 votes, never a
	// majority of 5.
	nodes, transport := newTestCluster(t, []uint64{1, 2, 3, 4, 5})
	transport.setDropped(3, true)
	transport.setDropped(4, true)
	transport.setDropped(5, true)

	nodes[1].startElection()

	require.False(t, nodes[1].IsLeader(), "node 1 should not win an election without a majority")
	require.Equal(t, Candidate, nodes[1].state.Role)
}

func TestNode_HigherTermInVoteResponseStepsDownCandidate(t *testing.T) {
	nodes, _ := newTestCluster(t, []uint64{1, 2, 3})

	// Bump node 2's term ahead by handling a vote request from a phantom
	// higher-term candidate, so its reply carries a higher term than node 1
	// is about to campaign with.
	higher := uint64(99)
	_, err := nodes[2].HandleVoteRequest(&VoteRequest{Term: 5, CandidateID: higher})
	require.NoError(t, err)

	nodes[1].startElection()

	require.False(t, nodes[1].IsLeader(), "node 1 must not win after seeing a higher term")
	require.Equal(t, Follower, nodes[1].state.Role)
	require.GreaterOrEqual(t, nodes[1].CurrentTerm(), uint64(5))
}

func TestNode_HandleVoteRequest_GrantsOncePerTerm(t *testing.T) {
	node := newTestNode(t, 1, []uint64{2, 3}, newFakeTransport())

	resp1, err := node.HandleVoteRequest(&VoteRequest{Term: 1, CandidateID: 2})
	require.NoError(t, err)
	require.True(t, resp1.VoteGranted, "expected first vote in term to be granted")

	resp2, err := node.HandleVoteRequest(&VoteRequest{Term: 1, CandidateID: 3})
	require.NoError(t, err)
	require.False(t, resp2.VoteGranted, "expected second candidate in same term to be denied")
}

func TestNode_HandleAppendEntries_RejectsStaleTerm(t *testing.T) {
	node := newTestNode(t, 1, []uint64{2}, newFakeTransport())
	node.state.BecomeFollower(5)

	resp, err := node.HandleAppendEntries(&AppendEntriesRequest{Term: 3, LeaderID: 2})
	require.NoError(t, err)
	require.False(t, resp.Success, "expected stale-term append to be rejected")
	require.EqualValues(t, 5, resp.Term)
}

func TestNode_HandleAppendEntries_ConflictTruncatesLog(t *testing.T) {
	node := newTestNode(t, 1, []uint64{2}, newFakeTransport())
	node.state.Persistent.CurrentTerm = 2
	node.state.Persistent.Log = []LogEntry{
		{Term: 1, Index: 1, Data: []byte("a")},
		{Term: 1, Index: 2, Data: []byte("b")},
		{Term: 1, Index: 3, Data: []byte("stale")},
	}

	resp, err := node.HandleAppendEntries(&AppendEntriesRequest{
		Term:         2,
		LeaderID:     2,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries: []LogEntry{
			{Term: 2, Index: 2, Data: []byte("b2")},
		},
	})
	require.NoError(t, err)
	require.True(t, resp.Success, "expected append to succeed")
	require.Len(t, node.state.Persistent.Log, 2, "expected conflicting tail truncated to 2 entries")
	require.Equal(t, "b2", string(node.state.Persistent.Log[1].Data), "expected entry 2 replaced with leader's version")
}

func TestNode_ProposeRequiresLeader(t *testing.T) {
	node := newTestNode(t, 1, []uint64{2, 3}, newFakeTransport())

	_, err := node.Propose([]byte("x"))
	require.Error(t, err, "expected propose on a follower to fail")
}

func TestNode_LeaderReplicatesAndCommitsOnMajority(t *testing.T) {
	nodes, _ := newTestCluster(t, []uint64{1, 2, 3})

	nodes[1].startElection()
	require.True(t, nodes[1].IsLeader(), "expected node 1 to become leader")

	index, err := nodes[1].Propose([]byte("hello"))
	require.NoError(t, err)

	nodes[1].sendHeartbeats()

	require.Equal(t, index, nodes[1].CommittedIndex())

	got2 := nodes[2].state.Persistent.Log
	require.Len(t, got2, 1)
	require.Equal(t, "hello", string(got2[0].Data), "expected follower 2 to have replicated the entry")

	got3 := nodes[3].state.Persistent.Log
	require.Len(t, got3, 1)
	require.Equal(t, "hello", string(got3[0].Data), "expected follower 3 to have replicated the entry")
}

func TestNode_StartStopTimers(t *testing.T) {
	node := newTestNode(t, 1, nil, newFakeTransport())
	node.Start()
	time.Sleep(5 * time.Millisecond)
	node.Stop()
}
