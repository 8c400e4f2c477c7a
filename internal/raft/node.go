package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"dlog/internal/errs"
)

// Config parameterizes one node's participation in a cluster's metadata
// consensus group.
type Config struct {
	NodeID             uint64
	Peers              []uint64 // every other member, never including NodeID
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	RPCTimeout         time.Duration
}

func DefaultConfig(nodeID uint64, peers []uint64) Config {
	return Config{
		NodeID:             nodeID,
		Peers:              peers,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
	}
}

// Node runs the Raft state machine for cluster metadata consensus: term
// tracking, leader election, and log replication to followers.
type Node struct {
	cfg       Config
	transport Transport
	persist   *RaftLog
	logger    *zap.Logger

	mu            sync.Mutex
	state         *NodeState
	lastHeartbeat time.Time
	knownLeader   *uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewNode(cfg Config, persist *RaftLog, transport Transport, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	persistent, err := persist.LoadState()
	if err != nil {
		return nil, err
	}

	state := NewNodeState(cfg.NodeID)
	state.Persistent = *persistent

	return &Node{
		cfg:           cfg,
		transport:     transport,
		persist:       persist,
		logger:        logger.With(zap.Uint64("node_id", cfg.NodeID)),
		state:         state,
		lastHeartbeat: time.Now(),
		stopCh:        make(chan struct{}),
	}, nil
}

func (n *Node) Start() {
	n.wg.Add(2)
	go n.runElectionTimer()
	go n.runHeartbeatTimer()
}

func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Node) electionTimeout() time.Duration {
	span := int64(n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin)
	if span <= 0 {
		return n.cfg.ElectionTimeoutMin
	}
	return n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(span+1))
}

func (n *Node) runElectionTimer() {
	defer n.wg.Done()
	for {
		timeout := n.electionTimeout()
		select {
		case <-time.After(timeout):
		case <-n.stopCh:
			return
		}

		n.mu.Lock()
		elapsed := time.Since(n.lastHeartbeat)
		role := n.state.Role
		n.mu.Unlock()

		if role != Leader && elapsed >= timeout {
			n.startElection()
		}
	}
}

func (n *Node) runHeartbeatTimer() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n.IsLeader() {
				n.sendHeartbeats()
			}
		case <-n.stopCh:
			return
		}
	}
}

// startElection sends RequestVote to every peer concurrently, waits for all
// replies (bounded by cfg.RPCTimeout each), and becomes leader only on an
// actual majority of granted votes — unlike a single-node simulation, a
// candidate here cannot win without hearing back from the cluster.
func (n *Node) startElection() {
	n.mu.Lock()
	n.state.BecomeCandidate()
	term := n.state.Persistent.CurrentTerm
	lastLogIndex := n.state.LastLogIndex()
	lastLogTerm := n.state.LastLogTerm()
	candidateID := n.state.NodeID
	if err := n.persist.SaveState(&n.state.Persistent); err != nil {
		n.logger.Error("persist candidate state", zap.Error(err))
	}
	n.lastHeartbeat = time.Now()
	n.mu.Unlock()

	n.logger.Info("starting election", zap.Uint64("term", term))

	var (
		voteMu        sync.Mutex
		wg            sync.WaitGroup
		votes         = 1 // vote for self
		higherTerm    uint64
		fanoutErr     *multierror.Error
	)

	for _, peer := range n.cfg.Peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
			defer cancel()

			resp, err := n.transport.RequestVote(ctx, peer, &VoteRequest{
				Term:         term,
				CandidateID:  candidateID,
				LastLogIndex: lastLogIndex,
				LastLogTerm:  lastLogTerm,
			})

			voteMu.Lock()
			defer voteMu.Unlock()
			if err != nil {
				fanoutErr = multierror.Append(fanoutErr, fmt.Errorf("peer %d: %w", peer, err))
				return
			}
			if resp.Term > term {
				if resp.Term > higherTerm {
					higherTerm = resp.Term
				}
				return
			}
			if resp.VoteGranted {
				votes++
			}
		}()
	}
	wg.Wait()

	if fanoutErr.ErrorOrNil() != nil {
		n.logger.Warn("request_vote fanout had failures", zap.Error(fanoutErr))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if higherTerm > n.state.Persistent.CurrentTerm {
		n.state.BecomeFollower(higherTerm)
		n.persist.SaveState(&n.state.Persistent)
		return
	}

	clusterSize := len(n.cfg.Peers) + 1
	majority := clusterSize/2 + 1

	if n.state.Role == Candidate && n.state.Persistent.CurrentTerm == term && votes >= majority {
		n.state.BecomeLeader(n.cfg.Peers)
		self := n.state.NodeID
		n.knownLeader = &self
		n.logger.Info("became leader", zap.Uint64("term", term), zap.Int("votes", votes))
	}
}

// sendHeartbeats sends a real AppendEntries to every peer, addressed with
// that peer's own NextIndex/PrevLogIndex/PrevLogTerm so a heartbeat also
// carries any entries the peer is missing — there is no separate
// "heartbeat-only" RPC path.
func (n *Node) sendHeartbeats() {
	n.mu.Lock()
	if n.state.Role != Leader {
		n.mu.Unlock()
		return
	}
	term := n.state.Persistent.CurrentTerm
	leaderID := n.state.NodeID
	leaderCommit := n.state.Volatile.CommitIndex
	peers := append([]uint64(nil), n.cfg.Peers...)
	n.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range peers {
		peer := peer

		n.mu.Lock()
		if n.state.Leader == nil {
			n.mu.Unlock()
			return
		}
		nextIdx := n.state.Leader.NextIndex[peer]
		if nextIdx == 0 {
			nextIdx = 1
		}
		var prevLogTerm uint64
		prevLogIndex := nextIdx - 1
		if entry, ok := n.entryAtIndexLocked(prevLogIndex); ok {
			prevLogTerm = entry.Term
		}
		var entries []LogEntry
		if nextIdx <= n.state.LastLogIndex() {
			entries = append([]LogEntry(nil), n.state.Persistent.Log[nextIdx-1:]...)
		}
		n.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
			defer cancel()

			resp, err := n.transport.AppendEntries(ctx, peer, &AppendEntriesRequest{
				Term:         term,
				LeaderID:     leaderID,
				PrevLogIndex: prevLogIndex,
				PrevLogTerm:  prevLogTerm,
				Entries:      entries,
				LeaderCommit: leaderCommit,
			})
			if err != nil {
				n.logger.Debug("append_entries rpc failed", zap.Uint64("peer", peer), zap.Error(err))
				return
			}
			n.handleAppendEntriesResponse(peer, term, nextIdx, len(entries), resp)
		}()
	}
	wg.Wait()
}

func (n *Node) handleAppendEntriesResponse(peer uint64, sentTerm uint64, sentNextIndex uint64, sentEntries int, resp *AppendEntriesResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.state.Persistent.CurrentTerm {
		n.state.BecomeFollower(resp.Term)
		n.persist.SaveState(&n.state.Persistent)
		return
	}
	if n.state.Role != Leader || n.state.Persistent.CurrentTerm != sentTerm || n.state.Leader == nil {
		return
	}

	if resp.Success {
		newMatch := sentNextIndex - 1 + uint64(sentEntries)
		if newMatch > n.state.Leader.MatchIndex[peer] {
			n.state.Leader.MatchIndex[peer] = newMatch
		}
		n.state.Leader.NextIndex[peer] = newMatch + 1
		n.advanceCommitIndexLocked()
		return
	}

	if n.state.Leader.NextIndex[peer] > 1 {
		n.state.Leader.NextIndex[peer]--
	}
}

// advanceCommitIndexLocked applies the standard Raft rule: commit_index may
// only advance to an index a majority of the cluster has replicated, and
// only if that entry was written in the leader's current term.
func (n *Node) advanceCommitIndexLocked() {
	clusterSize := len(n.cfg.Peers) + 1
	matches := make([]uint64, 0, clusterSize)
	matches = append(matches, n.state.LastLogIndex())
	for _, m := range n.state.Leader.MatchIndex {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	majorityMatch := matches[clusterSize/2]
	if majorityMatch <= n.state.Volatile.CommitIndex {
		return
	}
	if entry, ok := n.entryAtIndexLocked(majorityMatch); ok && entry.Term == n.state.Persistent.CurrentTerm {
		n.state.Volatile.CommitIndex = majorityMatch
	}
}

func (n *Node) entryAtIndexLocked(index uint64) (LogEntry, bool) {
	if index == 0 || index > uint64(len(n.state.Persistent.Log)) {
		return LogEntry{}, false
	}
	return n.state.Persistent.Log[index-1], true
}

// Propose appends data as a new log entry if this node is currently leader.
// It does not block for replication; callers watch CommittedIndex (or a
// future apply channel) to learn when the entry is durable on a quorum.
func (n *Node) Propose(data []byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Role != Leader {
		return 0, errs.NotLeader(n.knownLeader)
	}

	term := n.state.Persistent.CurrentTerm
	index := n.state.LastLogIndex() + 1
	entry := LogEntry{Term: term, Index: index, Data: data}
	n.state.Persistent.Log = append(n.state.Persistent.Log, entry)

	if err := n.persist.SaveState(&n.state.Persistent); err != nil {
		return 0, err
	}
	n.advanceCommitIndexLocked()
	return index, nil
}

// HandleAppendEntries is the RPC entry point a peer calls on this node.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lastHeartbeat = time.Now()

	if req.Term < n.state.Persistent.CurrentTerm {
		return &AppendEntriesResponse{Term: n.state.Persistent.CurrentTerm, Success: false}, nil
	}

	if req.Term > n.state.Persistent.CurrentTerm {
		n.state.BecomeFollower(req.Term)
	} else if n.state.Role == Candidate {
		n.state.BecomeFollower(req.Term)
	}
	leader := req.LeaderID
	n.knownLeader = &leader

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > uint64(len(n.state.Persistent.Log)) {
			return &AppendEntriesResponse{Term: n.state.Persistent.CurrentTerm, Success: false}, nil
		}
		prevEntry := n.state.Persistent.Log[req.PrevLogIndex-1]
		if prevEntry.Term != req.PrevLogTerm {
			n.state.Persistent.Log = n.state.Persistent.Log[:req.PrevLogIndex-1]
			if err := n.persist.SaveState(&n.state.Persistent); err != nil {
				return nil, err
			}
			return &AppendEntriesResponse{Term: n.state.Persistent.CurrentTerm, Success: false}, nil
		}
	}

	for _, entry := range req.Entries {
		if entry.Index > uint64(len(n.state.Persistent.Log)) {
			n.state.Persistent.Log = append(n.state.Persistent.Log, entry)
		} else if n.state.Persistent.Log[entry.Index-1].Term != entry.Term {
			n.state.Persistent.Log = append(n.state.Persistent.Log[:entry.Index-1], entry)
		}
	}

	if err := n.persist.SaveState(&n.state.Persistent); err != nil {
		return nil, err
	}

	if req.LeaderCommit > n.state.Volatile.CommitIndex {
		n.state.Volatile.CommitIndex = min(req.LeaderCommit, n.state.LastLogIndex())
	}

	return &AppendEntriesResponse{
		Term:       n.state.Persistent.CurrentTerm,
		Success:    true,
		MatchIndex: n.state.LastLogIndex(),
	}, nil
}

// HandleVoteRequest is the RPC entry point a candidate calls on this node.
func (n *Node) HandleVoteRequest(req *VoteRequest) (*VoteResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.state.Persistent.CurrentTerm {
		return &VoteResponse{Term: n.state.Persistent.CurrentTerm, VoteGranted: false}, nil
	}
	if req.Term > n.state.Persistent.CurrentTerm {
		n.state.BecomeFollower(req.Term)
	}

	canVote := n.state.Persistent.VotedFor == nil || *n.state.Persistent.VotedFor == req.CandidateID
	logUpToDate := req.LastLogTerm > n.state.LastLogTerm() ||
		(req.LastLogTerm == n.state.LastLogTerm() && req.LastLogIndex >= n.state.LastLogIndex())

	if canVote && logUpToDate {
		candidate := req.CandidateID
		n.state.Persistent.VotedFor = &candidate
		if err := n.persist.SaveState(&n.state.Persistent); err != nil {
			return nil, err
		}
		n.lastHeartbeat = time.Now()
		return &VoteResponse{Term: n.state.Persistent.CurrentTerm, VoteGranted: true}, nil
	}

	return &VoteResponse{Term: n.state.Persistent.CurrentTerm, VoteGranted: false}, nil
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Role == Leader
}

func (n *Node) CurrentTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Persistent.CurrentTerm
}

func (n *Node) CommittedIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Volatile.CommitIndex
}

// KnownLeader returns the last node this node believes is leader, if any.
func (n *Node) KnownLeader() *uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.knownLeader
}

// CommittedEntriesSince returns every log entry committed after lastApplied,
// in order, for a state machine applier to fold in. lastApplied is the
// highest index the caller has already applied (0 if none yet).
func (n *Node) CommittedEntriesSince(lastApplied uint64) []LogEntry {
	n.mu.Lock()
	defer n.mu.Unlock()

	commit := n.state.Volatile.CommitIndex
	if commit <= lastApplied {
		return nil
	}
	end := commit
	if end > uint64(len(n.state.Persistent.Log)) {
		end = uint64(len(n.state.Persistent.Log))
	}
	if lastApplied >= end {
		return nil
	}
	out := make([]LogEntry, end-lastApplied)
	copy(out, n.state.Persistent.Log[lastApplied:end])
	return out
}
