package raft

import (
	"encoding/json"
	"os"
	"sync"
)

// RaftLog persists PersistentState as a whole-file rewrite on every save,
// mirroring the original's "seek to 0, write, fsync" approach rather than an
// append-only WAL: at cluster-metadata scale the state is small enough that
// a full rewrite per term/vote/log change is cheap, and it avoids having to
// reason about a separate log-compaction scheme for this side log.
type RaftLog struct {
	mu   sync.Mutex
	path string
}

func OpenRaftLog(path string) (*RaftLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &RaftLog{path: path}, nil
}

func (l *RaftLog) SaveState(state *PersistentState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func (l *RaftLog) LoadState() (*PersistentState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &PersistentState{}, nil
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
