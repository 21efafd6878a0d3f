package raft_test

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
)

func TestFollowerCatchesUpAfterPartitionHeals(t *testing.T) {
	net, nodes, applyChs := newTestCluster(t, 3)

	leader := waitForLeader(t, nodes, 2*time.Second)
	var leaderID int32
	for i, n := range nodes {
		if n == leader {
			leaderID = int32(i)
		}
	}
	laggard := (leaderID + 1) % 3
	if laggard == leaderID {
		laggard = (laggard + 1) % 3
	}

	// Isolate the laggard so it misses the next several commits.
	for i := int32(0); i < 3; i++ {
		if i == laggard {
			continue
		}
		net.SetReachable(laggard, i, false)
		net.SetReachable(i, laggard, false)
	}

	var lastIndex int
	for i := 0; i < 5; i++ {
		idx, _, ok := leader.Start([]byte{byte(i)})
		if !ok {
			// leadership may have moved on if the partition confused the
			// timing; re-resolve it before continuing.
			leader = waitForLeader(t, nodes, 2*time.Second)
			idx, _, ok = leader.Start([]byte{byte(i)})
			if !ok {
				t.Fatalf("no leader accepted Start at iteration %d", i)
			}
		}
		lastIndex = idx
	}

	// Wait until the leader and the reachable follower have applied
	// through lastIndex, so those entries are committed without the laggard.
	for i := int32(0); i < 3; i++ {
		if i == laggard {
			continue
		}
		drainAtLeast(t, applyChs[i], lastIndex, 2*time.Second)
	}

	// Heal the partition and confirm the laggard eventually catches up.
	for i := int32(0); i < 3; i++ {
		if i == laggard {
			continue
		}
		net.SetReachable(laggard, i, true)
		net.SetReachable(i, laggard, true)
	}

	drainAtLeast(t, applyChs[laggard], lastIndex, 3*time.Second)
}

func drainAtLeast(t *testing.T, ch chan raft.ApplyMsg, index int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		select {
		case msg := <-ch:
			if msg.Index >= index {
				return
			}
		case <-time.After(time.Until(deadline)):
			t.Fatalf("never observed commit of index %d within %s", index, timeout)
		}
	}
}
