package raft

import (
	"context"
	"fmt"
	"sync"
)

// fakeTransport wires a set of in-process Nodes together, dispatching each
// RPC straight to the target's handler. Production code implements Transport
// over the real network layer; tests only need the handler contract.
type fakeTransport struct {
	mu    sync.RWMutex
	nodes map[uint64]*Node
	// dropTo, when set, makes RPCs addressed to that node fail instead of
	// reaching its handler, simulating a partitioned/crashed peer.
	dropTo map[uint64]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nodes: make(map[uint64]*Node), dropTo: make(map[uint64]bool)}
}

func (t *fakeTransport) register(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.cfg.NodeID] = n
}

func (t *fakeTransport) setDropped(id uint64, dropped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropTo[id] = dropped
}

func (t *fakeTransport) RequestVote(_ context.Context, peer uint64, req *VoteRequest) (*VoteResponse, error) {
	t.mu.RLock()
	node, ok := t.nodes[peer]
	dropped := t.dropTo[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no such peer %d", peer)
	}
	if dropped {
		return nil, fmt.Errorf("peer %d unreachable", peer)
	}
	return node.HandleVoteRequest(req)
}

func (t *fakeTransport) AppendEntries(_ context.Context, peer uint64, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	t.mu.RLock()
	node, ok := t.nodes[peer]
	dropped := t.dropTo[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no such peer %d", peer)
	}
	if dropped {
		return nil, fmt.Errorf("peer %d unreachable", peer)
	}
	return node.HandleAppendEntries(req)
}
