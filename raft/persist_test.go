package raft_test

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
	"github.com/halvard/raft/raft/persist"
	"github.com/halvard/raft/raft/rafttest"
)

func TestPersistedStateSurvivesRestart(t *testing.T) {
	p := persist.NewMemory()
	net := rafttest.NewNetwork()
	applyCh := make(chan raft.ApplyMsg, 16)

	opts := fastOptions()
	opts.Persister = p

	n := raft.NewNode(0, net.Links(0, 1), applyCh, opts)
	net.Attach(0, n.ServeRPC)

	// Drive an election so current_term advances and gets persisted.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if term, _ := n.GetState(); term > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	term, _ := n.GetState()
	if term == 0 {
		t.Fatal("expected a single-node cluster to elect itself within the deadline")
	}
	n.Stop()

	restarted := raft.NewNode(0, net.Links(0, 1), applyCh, opts)
	defer restarted.Stop()

	restoredTerm, _ := restarted.GetState()
	if restoredTerm < term {
		t.Fatalf("expected restored term >= %d, got %d", term, restoredTerm)
	}
}
