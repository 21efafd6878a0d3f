package raft

import (
	"sort"
	"time"
)

// runReplicator is the leader's heartbeat/replication loop for the term
// it was elected in. It ticks at heartbeatInterval, sending every peer
// whatever entries (if any) bring it up to date, and exits as soon as
// this node is no longer leader in that term.
func (n *Node) runReplicator(term uint64) {
	ticker := time.NewTicker(n.heartbeatInterval)
	defer ticker.Stop()

	n.leaderSendAEs(term)

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			n.mu.Lock()
			stillLeader := n.role == Leader && n.currentTerm == term
			n.mu.Unlock()
			if !stillLeader {
				return
			}
			n.signalReset()
			n.leaderSendAEs(term)
		}
	}
}

// leaderSendAEs fans out one round of AppendEntries to every peer.
func (n *Node) leaderSendAEs(term uint64) {
	n.mu.Lock()
	if n.role != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	peerCount := len(n.peers)
	n.logger.LogHeartbeatSent(n.me, term, peerCount-1)
	n.mu.Unlock()

	for p := range n.peers {
		if int32(p) == n.me {
			continue
		}
		go n.replicateToPeer(p, term)
	}
}

// replicateToPeer sends one AppendEntries call to peer, carrying up to
// maxAppendEntries entries starting at nextIndex[peer]. On a log-matching
// failure it backs nextIndex off using the follower's conflict hint
// rather than one entry at a time.
func (n *Node) replicateToPeer(peer int, term uint64) {
	n.mu.Lock()
	if n.role != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	prevIndex := n.nextIndex[peer] - 1
	if prevIndex < 0 {
		prevIndex = 0
	}
	prevTerm := n.log[prevIndex].Term

	end := minInt(len(n.log), n.nextIndex[peer]+n.maxAppendEntries)
	var entries []LogEntry
	if n.nextIndex[peer] < end {
		entries = append(entries, n.log[n.nextIndex[peer]:end]...)
	}

	args := AppendEntriesArgs{
		Term:         term,
		LeaderID:     n.me,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	n.mu.Unlock()

	reply, ok := n.callPeer(peer, "Raft.AppendEntries", args, &AppendEntriesReply{})
	if !ok {
		return
	}
	rep := reply.(*AppendEntriesReply)

	n.mu.Lock()
	defer n.mu.Unlock()

	if rep.Term > n.currentTerm {
		n.stepDownLocked(rep.Term)
		return
	}
	if n.role != Leader || n.currentTerm != term {
		return
	}

	if rep.Success {
		newMatch := prevIndex + len(entries)
		if newMatch > n.matchIndex[peer] {
			n.matchIndex[peer] = newMatch
		}
		n.nextIndex[peer] = n.matchIndex[peer] + 1
		n.recomputeCommitLocked(term)
		return
	}

	// Back off using the conflict hint: skip past the follower's whole
	// conflicting term when the leader doesn't have it either.
	if rep.FirstIndex > 0 {
		next := rep.FirstIndex
		if rep.ConflictTerm != 0 {
			for i := len(n.log) - 1; i > 0; i-- {
				if n.log[i].Term == rep.ConflictTerm {
					next = i + 1
					break
				}
			}
		}
		n.nextIndex[peer] = maxInt(1, next)
	} else {
		n.nextIndex[peer] = maxInt(1, n.nextIndex[peer]-1)
	}
}

// recomputeCommitLocked implements leader-side commit advancement: sort
// matchIndex, take the lower median (the highest index replicated to a
// strict majority including self), and commit it only if that entry was
// appended in the leader's own current term — never commit an entry
// from a previous term merely because it reached a majority now.
// Callers must hold n.mu.
func (n *Node) recomputeCommitLocked(term uint64) {
	if n.role != Leader || n.currentTerm != term {
		return
	}

	matches := make([]int, len(n.matchIndex))
	copy(matches, n.matchIndex)
	sort.Ints(matches)
	majority := matches[(len(matches)-1)/2]

	if majority <= n.commitIndex || majority >= len(n.log) {
		return
	}
	if n.log[majority].Term != n.currentTerm {
		return
	}

	n.commitIndex = majority
	n.requestCommitLocked(majority)
}
