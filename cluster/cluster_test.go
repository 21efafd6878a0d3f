package cluster

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
	"github.com/halvard/raft/statemachine/kvstore"
)

func waitForLeader(t *testing.T, c *Cluster, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for i, n := range c.Nodes {
			if _, isLeader := n.GetState(); isLeader {
				return i
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected before deadline")
	return -1
}

func TestClusterElectsLeader(t *testing.T) {
	c := NewCluster(3, raft.Options{
		ElectionMinTimeout: 50 * time.Millisecond,
		ElectionMaxTimeout: 100 * time.Millisecond,
		HeartbeatInterval:  15 * time.Millisecond,
	}, nil)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	leader := waitForLeader(t, c, 2*time.Second)

	term, isLeader := c.Nodes[leader].GetState()
	if !isLeader {
		t.Fatalf("node %d no longer leader", leader)
	}
	if term == 0 {
		t.Fatalf("expected a positive term after election, got 0")
	}
}

func TestClusterReplicatesCommand(t *testing.T) {
	c := NewCluster(3, raft.Options{
		ElectionMinTimeout: 50 * time.Millisecond,
		ElectionMaxTimeout: 100 * time.Millisecond,
		HeartbeatInterval:  15 * time.Millisecond,
	}, nil)
	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer c.Shutdown()

	waitForLeader(t, c, 2*time.Second)

	stores := make([]*kvstore.Store, len(c.Nodes))
	done := make(chan struct{})
	defer close(done)
	for i := range c.Nodes {
		stores[i] = kvstore.NewStore()
		go stores[i].Run(c.ApplyCh[i], done)
	}

	payload, err := kvstore.EncodeCommand(kvstore.Command{Op: kvstore.OpPut, Key: "x", Value: []byte("1")})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}

	index, _, ok := c.Submit(payload)
	if !ok {
		t.Fatalf("no node accepted Submit as leader")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		applied := true
		for _, s := range stores {
			if s.LastApplied() < index {
				applied = false
				break
			}
		}
		if applied {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i, s := range stores {
		v, ok := s.Get("x")
		if !ok || string(v) != "1" {
			t.Errorf("node %d: expected x=1, got %q (ok=%v)", i, v, ok)
		}
	}
}
