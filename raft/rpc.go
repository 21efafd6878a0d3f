package raft

import (
	"bytes"
	"encoding/gob"
)

// AppendEntriesArgs is the AppendEntries RPC's argument struct, used both
// for heartbeats (Entries == nil) and for log replication.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     int32
	PrevLogIndex int
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit int
}

// AppendEntriesReply is the AppendEntries RPC's reply struct. FirstIndex
// is the conflict back-off hint: the first index of ConflictTerm in the
// follower's log (or, if the follower's log is simply too short, the
// index one past its end), letting the leader skip a whole conflicting
// term in one round trip instead of decrementing nextIndex by one entry
// at a time.
type AppendEntriesReply struct {
	Term         uint64
	Success      bool
	ConflictTerm uint64
	FirstIndex   int
}

// AppendEntries is the RPC handler invoked by the current leader. It
// enforces term rules, the log-matching check at PrevLogIndex/PrevLogTerm,
// conflict truncation, and commit-index advancement bounded by the
// leader's own LeaderCommit.
func (n *Node) AppendEntries(args AppendEntriesArgs, reply *AppendEntriesReply) error {
	n.mu.Lock()

	if args.Term < n.currentTerm {
		reply.Term = n.currentTerm
		reply.Success = false
		reply.FirstIndex = args.PrevLogIndex + 1
		n.mu.Unlock()
		return nil
	}

	if args.Term > n.currentTerm {
		n.adoptTermLocked(args.Term)
	} else if n.role == Candidate {
		n.role = Follower
	}
	reply.Term = n.currentTerm
	n.signalReset()

	if len(args.Entries) == 0 {
		n.logger.LogHeartbeatReceived(n.me, args.LeaderID, args.Term)
	} else {
		n.logger.LogAppendEntries(n.me, args.LeaderID, args.Term, args.PrevLogIndex, len(args.Entries))
	}

	if args.PrevLogIndex >= len(n.log) {
		reply.Success = false
		reply.FirstIndex = len(n.log)
		n.mu.Unlock()
		return nil
	}

	if args.PrevLogIndex > 0 && n.log[args.PrevLogIndex].Term != args.PrevLogTerm {
		conflictTerm := n.log[args.PrevLogIndex].Term
		first := args.PrevLogIndex
		for first > 1 && n.log[first-1].Term == conflictTerm {
			first--
		}
		reply.Success = false
		reply.ConflictTerm = conflictTerm
		reply.FirstIndex = first
		n.mu.Unlock()
		return nil
	}

	// Log matches through PrevLogIndex. Append the new entries, truncating
	// any conflicting suffix first.
	insertAt := args.PrevLogIndex + 1
	for i, e := range args.Entries {
		idx := insertAt + i
		if idx < len(n.log) {
			if n.log[idx].Term != e.Term {
				n.log = n.log[:idx]
				n.log = append(n.log, args.Entries[i:]...)
				break
			}
			continue
		}
		n.log = append(n.log, args.Entries[i:]...)
		break
	}
	n.persistLocked()

	if args.LeaderCommit > n.commitIndex {
		newCommit := minInt(args.LeaderCommit, len(n.log)-1)
		n.commitIndex = newCommit
		n.requestCommitLocked(newCommit)
	}

	reply.Success = true
	n.mu.Unlock()
	return nil
}

// callPeer encodes args with gob, issues the RPC by name through the
// peer's PeerClient, and decodes into a fresh reply of the same type as
// replyTemplate. It returns the decoded reply and whether the round trip
// succeeded.
func (n *Node) callPeer(peer int, method string, args interface{}, replyTemplate interface{}) (interface{}, bool) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		n.logger.Debug("node %d: encode %s failed: %v", n.me, method, err)
		return nil, false
	}

	raw, ok := n.peers[peer].Call(method, buf.Bytes())
	if !ok {
		n.logger.Debug("node %d: %s to peer %d failed", n.me, method, peer)
		return nil, false
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(replyTemplate); err != nil {
		n.logger.Debug("node %d: decode %s reply failed: %v", n.me, method, err)
		return nil, false
	}
	return replyTemplate, true
}

// ServeRPC dispatches a gob-encoded RequestVote or AppendEntries call by
// method name and returns the gob-encoded reply. A transport (see
// package transport) registers this as the single entry point net/rpc
// calls into, matching net/rpc's own "Type.Method" naming convention so
// the wire method names are exactly "Raft.RequestVote" and
// "Raft.AppendEntries".
func (n *Node) ServeRPC(method string, args []byte) (reply []byte, err error) {
	switch method {
	case "Raft.RequestVote":
		var a RequestVoteArgs
		if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&a); err != nil {
			return nil, err
		}
		var r RequestVoteReply
		if err := n.RequestVote(a, &r); err != nil {
			return nil, err
		}
		return encodeReply(&r)

	case "Raft.AppendEntries":
		var a AppendEntriesArgs
		if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&a); err != nil {
			return nil, err
		}
		var r AppendEntriesReply
		if err := n.AppendEntries(a, &r); err != nil {
			return nil, err
		}
		return encodeReply(&r)

	default:
		return nil, errUnknownMethod(method)
	}
}

func encodeReply(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type errUnknownMethod string

func (e errUnknownMethod) Error() string { return "raft: unknown RPC method " + string(e) }
