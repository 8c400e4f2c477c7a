// Package replication places and replicates record batches across a
// cluster's storage nodes, independent of the metadata consensus in
// package raft.
package replication

import (
	"math/rand"
	"sort"
	"sync"
)

// CopySet is the set of nodes holding a copy of a partition's data, with one
// of them designated the replication leader for that partition.
type CopySet struct {
	Nodes  []uint64
	Leader uint64
}

func (c CopySet) Contains(nodeID uint64) bool {
	for _, n := range c.Nodes {
		if n == nodeID {
			return true
		}
	}
	return false
}

func (c CopySet) Size() int { return len(c.Nodes) }

// CopySetSelector picks copysets for new partitions, spreading load across
// the cluster rather than always using the same replication_factor nodes.
type CopySetSelector struct {
	mu                sync.Mutex
	allNodes          []uint64
	replicationFactor int
	usage             map[string]int
}

func NewCopySetSelector(allNodes []uint64, replicationFactor int) *CopySetSelector {
	nodes := append([]uint64(nil), allNodes...)
	return &CopySetSelector{
		allNodes:          nodes,
		replicationFactor: replicationFactor,
		usage:             make(map[string]int),
	}
}

func copysetKey(nodes []uint64) string {
	b := make([]byte, 0, len(nodes)*8)
	for _, n := range nodes {
		for i := 0; i < 8; i++ {
			b = append(b, byte(n>>(8*i)))
		}
	}
	return string(b)
}

// SelectCopyset picks replicationFactor distinct nodes at random and a
// leader among them, recording the selection for load-balancing stats.
func (s *CopySetSelector) SelectCopyset() (CopySet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.allNodes) < s.replicationFactor {
		return CopySet{}, false
	}

	nodes := append([]uint64(nil), s.allNodes...)
	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	nodes = nodes[:s.replicationFactor]
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	s.usage[copysetKey(nodes)]++
	leader := nodes[rand.Intn(len(nodes))]

	return CopySet{Nodes: nodes, Leader: leader}, true
}

// SelectCopysetDCAware prefers at least one node from preferredDC before
// filling the remaining slots from the rest of the cluster.
func (s *CopySetSelector) SelectCopysetDCAware(datacenterOf map[uint64]string, preferredDC string) (CopySet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var preferred, other []uint64
	for _, n := range s.allNodes {
		if datacenterOf[n] == preferredDC {
			preferred = append(preferred, n)
		} else {
			other = append(other, n)
		}
	}

	var selected []uint64
	if len(preferred) > 0 {
		rand.Shuffle(len(preferred), func(i, j int) { preferred[i], preferred[j] = preferred[j], preferred[i] })
		selected = append(selected, preferred[0])
		preferred = preferred[1:]
	}

	remaining := append(append([]uint64(nil), preferred...), other...)
	rand.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })

	for len(selected) < s.replicationFactor && len(remaining) > 0 {
		selected = append(selected, remaining[0])
		remaining = remaining[1:]
	}
	if len(selected) < s.replicationFactor {
		return CopySet{}, false
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
	s.usage[copysetKey(selected)]++
	leader := selected[rand.Intn(len(selected))]

	return CopySet{Nodes: selected, Leader: leader}, true
}

// Stats summarizes how evenly copysets are being reused, for monitoring.
type Stats struct {
	TotalCopysets int
	TotalUsage    int
	MaxUsage      int
	MinUsage      int
}

func (s *CopySetSelector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	st.TotalCopysets = len(s.usage)
	first := true
	for _, n := range s.usage {
		st.TotalUsage += n
		if first || n > st.MaxUsage {
			st.MaxUsage = n
		}
		if first || n < st.MinUsage {
			st.MinUsage = n
		}
		first = false
	}
	return st
}
