package replication

import (
	"context"
	"sync"

	"dlog/internal/errs"
)

// SyncManager tracks, per node, how far replication has progressed and lets
// callers wait for a quorum of nodes to reach a target offset.
//
// The original this is ported from kept a Notify per node and, when waiting
// for a quorum of several nodes, only ever awaited the first node's
// notifier — a write that completed on nodes 2 and 3 but never on node 1
// would leave wait_for_quorum parked forever even though the quorum was
// already satisfied. Here a single condition variable is broadcast on every
// update, so a waiter re-checks its quorum condition after ANY node's
// offset advances, not just one arbitrarily chosen node.
type SyncManager struct {
	mu      sync.Mutex
	cond    *sync.Cond
	offsets map[uint64]uint64
}

func NewSyncManager() *SyncManager {
	s := &SyncManager{offsets: make(map[uint64]uint64)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SyncManager) UpdateOffset(nodeID uint64, offset uint64) {
	s.mu.Lock()
	s.offsets[nodeID] = offset
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *SyncManager) GetOffset(nodeID uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.offsets[nodeID]
	return offset, ok
}

// CommittedOffset is the minimum offset across all tracked nodes: data at or
// below it is durable on every replica that's reported in.
func (s *SyncManager) CommittedOffset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLocked()
}

func (s *SyncManager) minLocked() uint64 {
	first := true
	var min uint64
	for _, o := range s.offsets {
		if first || o < min {
			min = o
			first = false
		}
	}
	return min
}

func (s *SyncManager) HighWatermark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for _, o := range s.offsets {
		if o > max {
			max = o
		}
	}
	return max
}

// WaitForOffset blocks until nodeID's tracked offset reaches target, ctx is
// canceled, or a stop signal is broadcast by the caller's context.
func (s *SyncManager) WaitForOffset(ctx context.Context, nodeID uint64, target uint64) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.offsets[nodeID] < target {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	return nil
}

// WaitForQuorum blocks until at least quorumSize of nodes have reached
// target, or ctx expires.
func (s *SyncManager) WaitForQuorum(ctx context.Context, nodes []uint64, target uint64, quorumSize int) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readyCountLocked(nodes, target) < quorumSize {
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindQuorumNotAvailable, "quorum not reached before deadline", ctx.Err())
		}
		s.cond.Wait()
	}
	return nil
}

func (s *SyncManager) readyCountLocked(nodes []uint64, target uint64) int {
	count := 0
	for _, n := range nodes {
		if s.offsets[n] >= target {
			count++
		}
	}
	return count
}

// Lag returns how far behind the cluster high watermark nodeID is.
func (s *SyncManager) Lag(nodeID uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.offsets[nodeID]
	if !ok {
		return 0, false
	}
	var max uint64
	for _, o := range s.offsets {
		if o > max {
			max = o
		}
	}
	if max < offset {
		return 0, true
	}
	return max - offset, true
}

// InSyncNodes returns the nodes within maxLag of the cluster high watermark.
func (s *SyncManager) InSyncNodes(maxLag uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max uint64
	for _, o := range s.offsets {
		if o > max {
			max = o
		}
	}

	var inSync []uint64
	for n, o := range s.offsets {
		lag := uint64(0)
		if max > o {
			lag = max - o
		}
		if lag <= maxLag {
			inSync = append(inSync, n)
		}
	}
	return inSync
}
