package cluster

import (
	"encoding/json"
	"sync"
	"time"

	"dlog/internal/errs"
	"dlog/internal/raft"
	"dlog/internal/record"
)

// changeKind tags a metadata mutation proposed through Raft so followers
// can apply the right side effect when they see it committed.
type changeKind string

const (
	changeCreateLog changeKind = "create_log"
	changeDeleteLog changeKind = "delete_log"
	changeAssign    changeKind = "assign_partition"
)

type change struct {
	Kind       changeKind
	Log        *LogMetadata       `json:",omitempty"`
	LogID      *record.LogID      `json:",omitempty"`
	Partition  record.PartitionID `json:",omitempty"`
	Nodes      []uint64           `json:",omitempty"`
}

// Manager is the per-node view of cluster metadata: it proposes changes
// through the Raft node when leader, and applies every committed change
// (its own or a remote leader's) to keep the in-memory registry consistent
// across the cluster.
type Manager struct {
	nodeID uint64
	raft   *raft.Node

	mu          sync.RWMutex
	logs        map[record.LogID]LogMetadata
	assignments map[record.PartitionID][]uint64
	applied     uint64
}

func NewManager(nodeID uint64, raftNode *raft.Node) *Manager {
	return &Manager{
		nodeID:      nodeID,
		raft:        raftNode,
		logs:        make(map[record.LogID]LogMetadata),
		assignments: make(map[record.PartitionID][]uint64),
	}
}

func (m *Manager) propose(c change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.KindSerialization, "encode cluster change", err)
	}
	if _, err := m.raft.Propose(data); err != nil {
		return err
	}
	return nil
}

// CreateLog registers a new log. It must run on the leader; followers learn
// about the log once the proposal commits and ApplyCommitted replays it.
func (m *Manager) CreateLog(meta LogMetadata) error {
	return m.propose(change{Kind: changeCreateLog, Log: &meta})
}

func (m *Manager) DeleteLog(id record.LogID) error {
	return m.propose(change{Kind: changeDeleteLog, LogID: &id})
}

func (m *Manager) AssignPartition(partition record.PartitionID, nodes []uint64) error {
	return m.propose(change{Kind: changeAssign, Partition: partition, Nodes: nodes})
}

// ApplyCommitted decodes and applies one committed log entry. The caller
// (the node's apply loop) is responsible for calling this exactly once per
// committed index, in order.
func (m *Manager) ApplyCommitted(index uint64, data []byte) error {
	var c change
	if err := json.Unmarshal(data, &c); err != nil {
		return errs.Wrap(errs.KindSerialization, "decode cluster change", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch c.Kind {
	case changeCreateLog:
		if c.Log != nil {
			m.logs[c.Log.ID] = *c.Log
		}
	case changeDeleteLog:
		if c.LogID != nil {
			delete(m.logs, *c.LogID)
		}
	case changeAssign:
		m.assignments[c.Partition] = c.Nodes
	}
	m.applied = index
	return nil
}

func (m *Manager) GetLog(id record.LogID) (LogMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.logs[id]
	return meta, ok
}

func (m *Manager) ListLogs() []record.LogID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]record.LogID, 0, len(m.logs))
	for id := range m.logs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) PartitionNodes(partition record.PartitionID) ([]uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes, ok := m.assignments[partition]
	return nodes, ok
}

// IsPartitionLeader reports whether this node is the first (leader) replica
// for partition, matching the convention that assignment[0] is the leader.
func (m *Manager) IsPartitionLeader(partition record.PartitionID) bool {
	nodes, ok := m.PartitionNodes(partition)
	return ok && len(nodes) > 0 && nodes[0] == m.nodeID
}

func (m *Manager) NodeID() uint64 { return m.nodeID }

func (m *Manager) AppliedIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

// RunApplyLoop polls the Raft node for newly committed entries and folds
// them into the registry until stopCh closes. Each node runs this in one
// goroutine; every node (leader or follower) needs it to keep its local registry
// current, since a change only takes effect once Raft commits it.
func (m *Manager) RunApplyLoop(stopCh <-chan struct{}, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.drainCommitted()
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) drainCommitted() {
	last := m.AppliedIndex()
	for _, entry := range m.raft.CommittedEntriesSince(last) {
		_ = m.ApplyCommitted(entry.Index, entry.Data)
	}
}
