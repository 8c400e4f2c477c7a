package epoch

import (
	"sync"

	"dlog/internal/record"
)

// Sequencer is a node-local facade over one Store per partition: it's what
// a broker consults before accepting a write ("am I still the sequencer for
// this partition's current epoch?") and what failover drives ("seal my old
// epoch, activate my new one").
type Sequencer struct {
	nodeID uint64

	mu     sync.RWMutex
	stores map[record.PartitionID]*Store
}

func NewSequencer(nodeID uint64) *Sequencer {
	return &Sequencer{nodeID: nodeID, stores: make(map[record.PartitionID]*Store)}
}

func (s *Sequencer) storeFor(p record.PartitionID) *Store {
	if st, ok := s.stores[p]; ok {
		return st
	}
	st := NewStore()
	s.stores[p] = st
	return st
}

// Activate makes this node the sequencer for partition, starting a new
// epoch at startOffset. Called after winning leadership (directly by a
// single-node bootstrap, or driven by a Raft leadership change in a
// clustered deployment).
func (s *Sequencer) Activate(partition record.PartitionID, startOffset uint64) Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeFor(partition).StartEpoch(s.nodeID, startOffset)
}

func (s *Sequencer) CurrentEpoch(partition record.PartitionID) (Epoch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[partition]
	if !ok {
		return Invalid, false
	}
	return st.CurrentEpoch()
}

// SealEpoch closes an epoch against further writes once its highest written
// offset-within-epoch is known. A leader seals its own epoch on graceful
// handoff; a new leader seals the old one during failover once it has
// confirmed (via replication status, not modeled here) the old sequencer's
// last write.
func (s *Sequencer) SealEpoch(partition record.PartitionID, e Epoch, lastOffset uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[partition]
	if !ok {
		return false
	}
	return st.SealEpoch(e, lastOffset)
}

func (s *Sequencer) CanWrite(partition record.PartitionID, e Epoch) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[partition]
	if !ok {
		return false
	}
	m, ok := st.Get(e)
	if !ok {
		return false
	}
	return m.CanWrite()
}

// Store exposes the underlying per-partition epoch history, e.g. for a
// status RPC or a new leader inspecting the epoch it's taking over.
func (s *Sequencer) Store(partition record.PartitionID) (*Store, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[partition]
	return st, ok
}

// Failover seals the outgoing epoch at its last known offset-within-epoch
// and activates a new epoch for this node, continuing the partition's
// global offset space from where the sealed epoch's last write left off.
// This is the seal-before-activate protocol: skipping the seal would let
// the old and new sequencer both believe they can write, producing two
// different records at the same global offset.
func (s *Sequencer) Failover(partition record.PartitionID, sealedEpoch Epoch, lastOffsetInEpoch uint32) Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.storeFor(partition)
	st.SealEpoch(sealedEpoch, lastOffsetInEpoch)

	nextStart := uint64(0)
	if m, ok := st.Get(sealedEpoch); ok {
		nextStart = m.StartOffset + uint64(lastOffsetInEpoch) + 1
	}
	return st.StartEpoch(s.nodeID, nextStart)
}
