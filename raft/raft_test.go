package raft_test

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
	"github.com/halvard/raft/raft/rafttest"
)

// fastOptions shortens the protocol's real-world 200-400ms election
// window so a multi-election test run finishes in well under a second.
func fastOptions() raft.Options {
	return raft.Options{
		ElectionMinTimeout: 30 * time.Millisecond,
		ElectionMaxTimeout: 60 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
	}
}

func newTestCluster(t *testing.T, n int) (*rafttest.Network, []*raft.Node, []chan raft.ApplyMsg) {
	t.Helper()
	net := rafttest.NewNetwork()
	nodes := make([]*raft.Node, n)
	applyChs := make([]chan raft.ApplyMsg, n)

	for i := 0; i < n; i++ {
		applyChs[i] = make(chan raft.ApplyMsg, 256)
		peers := net.Links(int32(i), n)
		nodes[i] = raft.NewNode(int32(i), peers, applyChs[i], fastOptions())
		net.Attach(int32(i), nodes[i].ServeRPC)
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.Stop()
		}
	})

	return net, nodes, applyChs
}

func findLeader(nodes []*raft.Node) (*raft.Node, bool) {
	for _, n := range nodes {
		if _, isLeader := n.GetState(); isLeader {
			return n, true
		}
	}
	return nil, false
}

func waitForLeader(t *testing.T, nodes []*raft.Node, timeout time.Duration) *raft.Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leader, ok := findLeader(nodes); ok {
			return leader
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected before deadline")
	return nil
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	_, nodes, _ := newTestCluster(t, 3)

	waitForLeader(t, nodes, 2*time.Second)
	time.Sleep(100 * time.Millisecond) // let the cluster settle

	leaders := 0
	var term uint64
	for _, n := range nodes {
		if nodeTerm, isLeader := n.GetState(); isLeader {
			leaders++
			term = nodeTerm
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, found %d at term %d", leaders, term)
	}
}

func TestLeaderReplicatesAndCommits(t *testing.T) {
	_, nodes, applyChs := newTestCluster(t, 3)

	leader := waitForLeader(t, nodes, 2*time.Second)

	index, _, isLeader := leader.Start([]byte("hello"))
	if !isLeader {
		t.Fatal("leader rejected Start")
	}

	for i, ch := range applyChs {
		select {
		case msg := <-ch:
			if msg.Index != index || string(msg.Command) != "hello" {
				t.Fatalf("node %d: unexpected apply msg %+v", i, msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("node %d: command never committed", i)
		}
	}
}

func TestNonLeaderStartRejected(t *testing.T) {
	_, nodes, _ := newTestCluster(t, 3)

	leader := waitForLeader(t, nodes, 2*time.Second)
	for _, n := range nodes {
		if n == leader {
			continue
		}
		if _, _, isLeader := n.Start([]byte("x")); isLeader {
			t.Fatalf("expected follower to reject Start")
		}
	}
}
