package raft

import (
	"bytes"
	"encoding/gob"
)

// persistedState is the gob-encoded snapshot handed to a Persister:
// exactly the three fields the protocol requires to survive a restart
// without replaying the log from another peer.
type persistedState struct {
	CurrentTerm uint64
	VotedFor    int32
	Log         []LogEntry
}

// persistLocked writes current_term/voted_for/log through n.persister,
// if one was configured. Call sites are every point that changes one of
// those fields: term adoption, vote grant, and log append/truncation.
// Callers must hold n.mu.
func (n *Node) persistLocked() {
	if n.persister == nil {
		return
	}
	var buf bytes.Buffer
	state := persistedState{CurrentTerm: n.currentTerm, VotedFor: n.votedFor, Log: n.log}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		n.logger.Debug("node %d: persist encode failed: %v", n.me, err)
		return
	}
	if err := n.persister.Save(buf.Bytes()); err != nil {
		n.logger.Debug("node %d: persist save failed: %v", n.me, err)
	}
}

// restorePersisted loads state from n.persister, if one was configured
// and it holds data. Called once from NewNode before any background
// task starts.
func (n *Node) restorePersisted() {
	if n.persister == nil {
		return
	}
	raw, err := n.persister.Load()
	if err != nil || len(raw) == 0 {
		return
	}
	var state persistedState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&state); err != nil {
		n.logger.Warn("node %d: persist decode failed: %v", n.me, err)
		return
	}
	n.currentTerm = state.CurrentTerm
	n.votedFor = state.VotedFor
	if len(state.Log) > 0 {
		n.log = state.Log
	}
}
