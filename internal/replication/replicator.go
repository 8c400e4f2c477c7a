package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"dlog/internal/errs"
	"dlog/internal/record"
)

// Transport pushes an encoded record batch to a follower node and reports
// the offset it durably replicated through. Production wiring implements
// this over the broker's network layer; tests use an in-process fake.
type Transport interface {
	ReplicateBatch(ctx context.Context, node uint64, partition record.PartitionID, batch []byte, lastOffset uint64) error
}

type Config struct {
	Quorum        QuorumConfig
	MaxInFlight   int
	RetryAttempts int
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Quorum:        DefaultQuorumConfig(),
		MaxInFlight:   1000,
		RetryAttempts: 3,
		Timeout:       5 * time.Second,
	}
}

// Manager assigns each partition a copyset and replicates batches to it,
// tracking per-node progress through a SyncManager so callers can wait for
// a write quorum or query in-sync replicas.
type Manager struct {
	cfg       Config
	transport Transport
	sync      *SyncManager

	mu       sync.RWMutex
	selector *CopySetSelector
	copysets map[record.PartitionID]CopySet
}

func NewManager(cfg Config, clusterNodes []uint64, transport Transport) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		sync:      NewSyncManager(),
		selector:  NewCopySetSelector(clusterNodes, cfg.Quorum.ReplicationFactor),
		copysets:  make(map[record.PartitionID]CopySet),
	}
}

// GetCopyset returns the partition's assigned copyset, selecting and
// caching one on first use.
func (m *Manager) GetCopyset(partition record.PartitionID) (CopySet, bool) {
	m.mu.RLock()
	cs, ok := m.copysets[partition]
	m.mu.RUnlock()
	if ok {
		return cs, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok := m.copysets[partition]; ok {
		return cs, true
	}
	cs, ok = m.selector.SelectCopyset()
	if !ok {
		return CopySet{}, false
	}
	m.copysets[partition] = cs
	return cs, true
}

// Replicate sends batch to every node in the partition's copyset
// concurrently, waits for every RPC to finish (each bounded by cfg.Timeout
// and ctx), and then returns a QuorumNotAvailable error if fewer than
// WriteQuorum nodes succeeded. It does not return early once the quorum is
// reached. Unlike a stub that marks every node acknowledged
// unconditionally, a node's ack only counts once its RPC actually succeeds.
func (m *Manager) Replicate(ctx context.Context, partition record.PartitionID, batch []byte, lastOffset uint64) error {
	copyset, ok := m.GetCopyset(partition)
	if !ok {
		return errs.New(errs.KindReplication, "no copyset available for partition")
	}

	quorum := NewQuorumSet(copyset.Nodes, m.cfg.Quorum.WriteQuorum)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var rpcErrs error

	for _, node := range copyset.Nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()

			if err := m.transport.ReplicateBatch(rpcCtx, node, partition, batch, lastOffset); err != nil {
				mu.Lock()
				rpcErrs = multierr.Append(rpcErrs, err)
				mu.Unlock()
				return
			}
			m.sync.UpdateOffset(node, lastOffset)

			mu.Lock()
			quorum.AddResponse(node)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !quorum.IsSatisfied() {
		return multierr.Append(errs.New(errs.KindQuorumNotAvailable, "write quorum not reached"), rpcErrs)
	}
	return nil
}

func (m *Manager) UpdateProgress(nodeID uint64, offset uint64) {
	m.sync.UpdateOffset(nodeID, offset)
}

func (m *Manager) InSyncReplicas(maxLag uint64) []uint64 {
	return m.sync.InSyncNodes(maxLag)
}

func (m *Manager) CommittedOffset() uint64 {
	return m.sync.CommittedOffset()
}

// WaitForReplication blocks until the partition's write quorum has reached
// offset.
func (m *Manager) WaitForReplication(ctx context.Context, partition record.PartitionID, offset uint64) error {
	copyset, ok := m.GetCopyset(partition)
	if !ok {
		return errs.New(errs.KindReplication, "no copyset available for partition")
	}
	return m.sync.WaitForQuorum(ctx, copyset.Nodes, offset, m.cfg.Quorum.WriteQuorum)
}

// Status reports one partition's replication state for monitoring.
type Status struct {
	Partition       record.PartitionID
	LeaderOffset    uint64
	FollowerOffsets map[uint64]uint64
	InSyncReplicas  []uint64
}

func (m *Manager) Status(partition record.PartitionID) (Status, error) {
	copyset, ok := m.GetCopyset(partition)
	if !ok {
		return Status{}, errs.New(errs.KindPartitionNotFound, "no copyset for partition")
	}

	leaderOffset, _ := m.sync.GetOffset(copyset.Leader)
	followers := make(map[uint64]uint64)
	for _, n := range copyset.Nodes {
		if n == copyset.Leader {
			continue
		}
		if offset, ok := m.sync.GetOffset(n); ok {
			followers[n] = offset
		}
	}

	return Status{
		Partition:       partition,
		LeaderOffset:    leaderOffset,
		FollowerOffsets: followers,
		InSyncReplicas:  m.InSyncReplicas(1000),
	}, nil
}
