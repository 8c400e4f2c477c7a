package raft

import "context"

// AppendEntriesRequest carries either a heartbeat (Entries == nil) or a
// batch of log entries to replicate.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

type AppendEntriesResponse struct {
	Term       uint64
	Success    bool
	MatchIndex uint64
}

type VoteRequest struct {
	Term         uint64
	CandidateID  uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

type VoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// Transport sends RPCs to a named peer. Production wiring implements this
// over the node's network layer; tests use an in-process fake that calls
// the target Node's handlers directly.
type Transport interface {
	RequestVote(ctx context.Context, peer uint64, req *VoteRequest) (*VoteResponse, error)
	AppendEntries(ctx context.Context, peer uint64, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}
