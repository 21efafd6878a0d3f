package raft_test

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
)

func TestLeaderFailureTriggersReElection(t *testing.T) {
	net, nodes, _ := newTestCluster(t, 3)

	first := waitForLeader(t, nodes, 2*time.Second)
	firstTerm, _ := first.GetState()

	var firstID int32
	for i, n := range nodes {
		if n == first {
			firstID = int32(i)
		}
	}

	// Partition the old leader away from the rest of the cluster.
	for i := range nodes {
		if int32(i) == firstID {
			continue
		}
		net.SetReachable(firstID, int32(i), false)
		net.SetReachable(int32(i), firstID, false)
	}

	deadline := time.Now().Add(2 * time.Second)
	var second *raft.Node
	for time.Now().Before(deadline) {
		for i, n := range nodes {
			if int32(i) == firstID {
				continue
			}
			if _, isLeader := n.GetState(); isLeader {
				second = n
				break
			}
		}
		if second != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if second == nil {
		t.Fatal("no new leader elected after partitioning the old one")
	}

	secondTerm, _ := second.GetState()
	if secondTerm <= firstTerm {
		t.Fatalf("expected new leader's term %d to exceed old leader's term %d", secondTerm, firstTerm)
	}
}

func TestStaleTermAppendEntriesRejected(t *testing.T) {
	_, nodes, _ := newTestCluster(t, 3)
	waitForLeader(t, nodes, 2*time.Second)

	var reply raft.AppendEntriesReply
	args := raft.AppendEntriesArgs{
		Term:         0,
		LeaderID:     0,
		PrevLogIndex: 5,
		PrevLogTerm:  0,
		Entries:      nil,
		LeaderCommit: 0,
	}
	if err := nodes[0].AppendEntries(args, &reply); err != nil {
		t.Fatalf("AppendEntries returned error: %v", err)
	}
	if reply.Success {
		t.Fatal("expected a term-0 AppendEntries to be rejected once an election has advanced the term")
	}
	if reply.FirstIndex != args.PrevLogIndex+1 {
		t.Fatalf("expected FirstIndex=%d on a stale-term rejection, got %d", args.PrevLogIndex+1, reply.FirstIndex)
	}
}
