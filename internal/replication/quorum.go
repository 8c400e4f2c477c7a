package replication

import "dlog/internal/errs"

// ReplicaSelectionStrategy chooses how a CopySetSelector spreads load; only
// the strategy tag is stored here, the selector itself always uses the
// random placement in copyset.go (round-robin/nearest need cluster-latency
// input this package doesn't have yet).
type ReplicaSelectionStrategy int

const (
	RoundRobin ReplicaSelectionStrategy = iota
	Nearest
	Random
	DatacenterAware
)

// QuorumConfig governs how many replicas must acknowledge a write, and how
// many must be consulted on a read, for a given replication factor.
type QuorumConfig struct {
	ReplicationFactor int
	WriteQuorum       int
	ReadQuorum        int
	Strategy          ReplicaSelectionStrategy
}

// MajorityQuorum builds the standard configuration: both read and write
// quorums are a simple majority of the replication factor.
func MajorityQuorum(replicationFactor int) QuorumConfig {
	size := replicationFactor/2 + 1
	return QuorumConfig{
		ReplicationFactor: replicationFactor,
		WriteQuorum:       size,
		ReadQuorum:        size,
		Strategy:          RoundRobin,
	}
}

// WriteOptimizedQuorum acknowledges writes after the first replica and pays
// for it on the read side, which must then consult every replica.
func WriteOptimizedQuorum(replicationFactor int) QuorumConfig {
	return QuorumConfig{
		ReplicationFactor: replicationFactor,
		WriteQuorum:       1,
		ReadQuorum:        replicationFactor,
		Strategy:          Nearest,
	}
}

// ReadOptimizedQuorum is the mirror image: writes must reach every replica,
// reads can be served by any single one.
func ReadOptimizedQuorum(replicationFactor int) QuorumConfig {
	return QuorumConfig{
		ReplicationFactor: replicationFactor,
		WriteQuorum:       replicationFactor,
		ReadQuorum:        1,
		Strategy:          Nearest,
	}
}

func DefaultQuorumConfig() QuorumConfig { return MajorityQuorum(3) }

// Validate enforces that read and write quorums overlap: without overlap, a
// read quorum could be served entirely by replicas a concurrent write
// quorum never reached, breaking read-your-writes consistency.
func (c QuorumConfig) Validate() error {
	if c.ReplicationFactor == 0 {
		return errs.New(errs.KindConfig, "replication factor must be at least 1")
	}
	if c.WriteQuorum == 0 || c.WriteQuorum > c.ReplicationFactor {
		return errs.New(errs.KindConfig, "invalid write quorum size")
	}
	if c.ReadQuorum == 0 || c.ReadQuorum > c.ReplicationFactor {
		return errs.New(errs.KindConfig, "invalid read quorum size")
	}
	if c.WriteQuorum+c.ReadQuorum <= c.ReplicationFactor {
		return errs.New(errs.KindConfig, "read and write quorums must overlap for consistency")
	}
	return nil
}

// QuorumSet tracks progress of one in-flight operation toward its target
// acknowledgment count.
type QuorumSet struct {
	allNodes  []uint64
	responded map[uint64]bool
	target    int
}

func NewQuorumSet(allNodes []uint64, target int) *QuorumSet {
	return &QuorumSet{
		allNodes:  append([]uint64(nil), allNodes...),
		responded: make(map[uint64]bool),
		target:    target,
	}
}

// AddResponse records a success from nodeID, returning false if nodeID isn't
// a member of this quorum's node set.
func (q *QuorumSet) AddResponse(nodeID uint64) bool {
	for _, n := range q.allNodes {
		if n == nodeID {
			q.responded[nodeID] = true
			return true
		}
	}
	return false
}

func (q *QuorumSet) Responses() int { return len(q.responded) }

func (q *QuorumSet) IsSatisfied() bool { return len(q.responded) >= q.target }

func (q *QuorumSet) RemainingNodes() []uint64 {
	var remaining []uint64
	for _, n := range q.allNodes {
		if !q.responded[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining
}
