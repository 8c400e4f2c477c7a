// Package raft implements cluster metadata consensus: leader election and a
// replicated log of membership/configuration changes, independent of the
// data-plane replication in package replication.
package raft

// Role is a node's position in the current term.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// LogEntry is one replicated command.
type LogEntry struct {
	Term  uint64
	Index uint64
	Data  []byte
}

// PersistentState must be fsynced before a node replies to any RPC that
// depends on it.
type PersistentState struct {
	CurrentTerm uint64
	VotedFor    *uint64
	Log         []LogEntry
}

// VolatileState is rebuilt from scratch on every restart.
type VolatileState struct {
	CommitIndex uint64
	LastApplied uint64
}

// LeaderState exists only while this node holds leadership of the term; it
// is discarded the moment the node steps down.
type LeaderState struct {
	NextIndex  map[uint64]uint64
	MatchIndex map[uint64]uint64
}

func NewLeaderState(peers []uint64, lastLogIndex uint64) *LeaderState {
	ls := &LeaderState{
		NextIndex:  make(map[uint64]uint64, len(peers)),
		MatchIndex: make(map[uint64]uint64, len(peers)),
	}
	for _, p := range peers {
		ls.NextIndex[p] = lastLogIndex + 1
		ls.MatchIndex[p] = 0
	}
	return ls
}

// NodeState is a node's complete in-memory Raft state, guarded by Node's
// mutex rather than its own.
type NodeState struct {
	NodeID     uint64
	Role       Role
	Persistent PersistentState
	Volatile   VolatileState
	Leader     *LeaderState
}

func NewNodeState(nodeID uint64) *NodeState {
	return &NodeState{NodeID: nodeID, Role: Follower}
}

func (s *NodeState) BecomeFollower(term uint64) {
	s.Role = Follower
	s.Persistent.CurrentTerm = term
	s.Persistent.VotedFor = nil
	s.Leader = nil
}

func (s *NodeState) BecomeCandidate() {
	s.Role = Candidate
	s.Persistent.CurrentTerm++
	self := s.NodeID
	s.Persistent.VotedFor = &self
	s.Leader = nil
}

func (s *NodeState) BecomeLeader(peers []uint64) {
	s.Role = Leader
	s.Leader = NewLeaderState(peers, s.LastLogIndex())
}

func (s *NodeState) LastLogIndex() uint64 {
	if len(s.Persistent.Log) == 0 {
		return 0
	}
	return s.Persistent.Log[len(s.Persistent.Log)-1].Index
}

func (s *NodeState) LastLogTerm() uint64 {
	if len(s.Persistent.Log) == 0 {
		return 0
	}
	return s.Persistent.Log[len(s.Persistent.Log)-1].Term
}
