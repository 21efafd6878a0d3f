package raft

import (
	"math/rand"
	"time"
)

// RequestVoteArgs is the RequestVote RPC's argument struct.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  int32
	LastLogIndex int
	LastLogTerm  uint64
}

// RequestVoteReply is the RequestVote RPC's reply struct.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// randomTimeout picks a uniform random duration in [min, max).
func (n *Node) randomTimeout() time.Duration {
	if n.electionMax <= n.electionMin {
		return n.electionMin
	}
	span := n.electionMax - n.electionMin
	return n.electionMin + time.Duration(rand.Int63n(int64(span)))
}

// runElectionTimer owns the single long-lived election-timeout loop. It
// is the only goroutine that ever fires a new campaign, and it is reset
// (not just consulted) on a granted vote, a valid AppendEntries, and
// every leader heartbeat tick, so a reachable leader never times itself
// out.
func (n *Node) runElectionTimer() {
	timer := time.NewTimer(n.randomTimeout())
	defer timer.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-n.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.randomTimeout())
		case <-timer.C:
			n.mu.Lock()
			if n.role != Leader {
				n.logger.LogElectionTimeout(n.me)
				go n.campaign()
			}
			n.mu.Unlock()
			timer.Reset(n.randomTimeout())
		}
	}
}

// campaign runs one candidacy: increment term, vote for self, request
// votes from every peer concurrently, and promote to leader on reaching
// a strict majority (len(peers)/2, integer division — self's vote is
// already counted, matching the source this protocol was distilled
// from). A new campaign always resets votedCnt to 0 before requesting
// votes, so a stale tally from an earlier, abandoned campaign never
// carries over.
func (n *Node) campaign() {
	n.mu.Lock()
	if n.role == Leader {
		n.mu.Unlock()
		return
	}
	n.role = Candidate
	n.currentTerm++
	n.votedFor = n.me
	n.votedCnt = 0
	term := n.currentTerm
	lastIndex := len(n.log) - 1
	lastTerm := n.log[lastIndex].Term
	n.persistLocked()
	n.logger.LogElectionStart(n.me, term)
	n.mu.Unlock()

	n.signalReset()

	needed := len(n.peers) / 2
	votes := 1 // self

	replies := make(chan bool, len(n.peers))
	args := RequestVoteArgs{
		Term:         term,
		CandidateID:  n.me,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	if votes > needed {
		// Single-node cluster: self's vote is already a majority, no peer
		// round trip needed or possible.
		n.becomeLeader(term, votes, needed)
		return
	}

	for p := range n.peers {
		if int32(p) == n.me {
			continue
		}
		go func(peer int) {
			replies <- n.sendRequestVote(peer, term, args)
		}(p)
	}

	for i := 0; i < len(n.peers)-1; i++ {
		if <-replies {
			votes++
		}
		n.mu.Lock()
		stillCandidate := n.role == Candidate && n.currentTerm == term
		if stillCandidate {
			n.votedCnt = votes
		}
		n.mu.Unlock()
		if !stillCandidate {
			return
		}
		if votes > needed {
			n.becomeLeader(term, votes, needed)
			return
		}
	}

	n.mu.Lock()
	if n.role == Candidate && n.currentTerm == term {
		n.logger.LogElectionLost(n.me, term, votes, needed+1)
	}
	n.mu.Unlock()
}

// sendRequestVote issues one RequestVote call and folds the reply back
// into node state. It returns whether the vote was granted; a failed
// call or a stale reply both count as not granted.
func (n *Node) sendRequestVote(peer int, term uint64, args RequestVoteArgs) bool {
	reply, ok := n.callPeer(peer, "Raft.RequestVote", args, &RequestVoteReply{})
	if !ok {
		return false
	}
	rv := reply.(*RequestVoteReply)

	n.mu.Lock()
	defer n.mu.Unlock()
	if rv.Term > n.currentTerm {
		n.stepDownLocked(rv.Term)
		return false
	}
	if n.currentTerm != term || n.role != Candidate {
		return false
	}
	return rv.VoteGranted
}

// becomeLeader promotes n to leader for term, provided it is still
// a candidate in that term. Acquires n.mu itself.
func (n *Node) becomeLeader(term uint64, votes, needed int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Candidate || n.currentTerm != term {
		return
	}
	old := n.role
	n.role = Leader
	n.logger.LogElectionWon(n.me, term, votes, needed+1)
	n.logger.LogStateChange(n.me, old, Leader, term)

	lastIndex := len(n.log) - 1
	for p := range n.peers {
		n.nextIndex[p] = lastIndex + 1
		n.matchIndex[p] = 0
	}
	n.matchIndex[n.me] = lastIndex

	go n.runReplicator(term)
}

// RequestVote is the RPC handler invoked by a candidate peer. It
// implements the vote-granting rule: at most one vote per term, and
// only for a candidate whose log is at least as up to date as this
// node's.
func (n *Node) RequestVote(args RequestVoteArgs, reply *RequestVoteReply) error {
	n.mu.Lock()

	if args.Term < n.currentTerm {
		reply.Term = n.currentTerm
		reply.VoteGranted = false
		n.mu.Unlock()
		return nil
	}

	if args.Term > n.currentTerm {
		n.adoptTermLocked(args.Term)
	}
	reply.Term = n.currentTerm

	canVote := n.votedFor == -1
	upToDate := n.isLogUpToDateLocked(args.LastLogIndex, args.LastLogTerm)

	if canVote && upToDate {
		n.votedFor = args.CandidateID
		n.persistLocked()
		reply.VoteGranted = true
		n.logger.LogVoteGranted(n.me, args.CandidateID, args.Term)
		n.mu.Unlock()
		n.signalReset()
		return nil
	}

	reply.VoteGranted = false
	n.logger.LogVoteDenied(n.me, args.CandidateID, args.Term, voteDenyReason(canVote, upToDate))
	n.mu.Unlock()
	return nil
}

func voteDenyReason(canVote, upToDate bool) string {
	switch {
	case !canVote && !upToDate:
		return "already voted and log stale"
	case !canVote:
		return "already voted this term"
	default:
		return "candidate log not up to date"
	}
}

// isLogUpToDateLocked implements the up-to-date comparison: the
// candidate's log wins on strictly higher last-entry term, or on equal
// term and at-least-as-long log. Callers must hold n.mu.
func (n *Node) isLogUpToDateLocked(candidateLastIndex int, candidateLastTerm uint64) bool {
	lastIndex := len(n.log) - 1
	lastTerm := n.log[lastIndex].Term

	if candidateLastTerm != lastTerm {
		return candidateLastTerm > lastTerm
	}
	return candidateLastIndex >= lastIndex
}
