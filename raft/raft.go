// Package raft implements the replicated state-machine core of the Raft
// consensus protocol: leader election, log replication with conflict
// resolution, and commit-index advancement across a fixed cluster of peers.
//
// The transport that carries RequestVote/AppendEntries between peers, and
// the encoding of their argument structs, are not this package's concern:
// a Node is handed a PeerClient per peer and drives it with opaque
// method-name/payload pairs. See package transport for a net/rpc-backed
// implementation and package rafttest for an in-memory one used by tests.
package raft

import (
	"os"
	"sync"
	"time"
)

// Role is one of the three states a node cycles through.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// LogEntry is a single command in the replicated log. Index 0 of a Node's
// log is always the zero-value sentinel {Term: 0, Command: nil} and is
// never appended by a client or emitted on the apply channel.
type LogEntry struct {
	Term    uint64
	Command []byte
}

// ApplyMsg is delivered on the apply channel for every newly committed
// log entry, strictly in increasing Index order. Valid is always true
// for entries a Node sends; the field exists so the apply channel's
// wire contract can express an invalid/no-op message if a future
// caller (e.g. a snapshot installer) ever needs to send one.
type ApplyMsg struct {
	Valid   bool
	Index   int
	Term    uint64
	Command []byte
}

// PeerClient is the opaque outbound RPC collaborator a Node uses to reach
// one peer. Call must not block indefinitely; a transport should apply its
// own timeout and return ok=false on failure. Implementations must be safe
// for concurrent use: a Node calls the same peer's client from many
// concurrently-running per-peer tasks.
type PeerClient interface {
	Call(method string, args []byte) (reply []byte, ok bool)
}

// Persister durably stores the gob-encoded snapshot of a Node's persistent
// state (current term, vote, log). It is optional: a nil Persister means
// the node holds this state only in memory.
type Persister interface {
	Save(state []byte) error
	Load() ([]byte, error)
}

// Options configures the tunables named in the protocol. Zero-valued
// fields are replaced by DefaultOptions.
type Options struct {
	ElectionMinTimeout time.Duration
	ElectionMaxTimeout time.Duration
	HeartbeatInterval  time.Duration
	MaxAppendEntries   int
	Persister          Persister
	Logger             *Logger
}

// DefaultOptions returns the tunables named in the protocol: a 200-400ms
// randomized election timeout, a 50ms heartbeat, and a 10-entry append
// window.
func DefaultOptions() Options {
	return Options{
		ElectionMinTimeout: 200 * time.Millisecond,
		ElectionMaxTimeout: 400 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		MaxAppendEntries:   10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ElectionMinTimeout <= 0 {
		o.ElectionMinTimeout = d.ElectionMinTimeout
	}
	if o.ElectionMaxTimeout <= o.ElectionMinTimeout {
		o.ElectionMaxTimeout = d.ElectionMaxTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.MaxAppendEntries <= 0 {
		o.MaxAppendEntries = d.MaxAppendEntries
	}
	return o
}

// Node is a single replica of the Raft cluster. The zero value is not
// usable; construct one with NewNode.
type Node struct {
	mu sync.Mutex

	me    int32
	peers []PeerClient

	// Persistent state (see Persister).
	currentTerm uint64
	votedFor    int32 // -1 means no vote cast this term
	log         []LogEntry

	// Volatile state.
	commitIndex int
	role        Role
	votedCnt    int

	// Volatile leader state, reinitialized on promotion.
	nextIndex  []int
	matchIndex []int

	applyCh   chan ApplyMsg
	resetCh   chan struct{} // capacity 1, drained promptly by the election timer
	commitReq chan int      // capacity 1, single-slot "commit requested" queue
	done      chan struct{}

	persister Persister
	logger    *Logger

	electionMin, electionMax time.Duration
	heartbeatInterval        time.Duration
	maxAppendEntries         int
}

// NewNode constructs a node and starts its background tasks (election
// timer and applier). peers must list one PeerClient per cluster member,
// including a placeholder at index me for self (the core never dials
// peers[me]). The apply channel is never closed by the node; the caller
// drains it for the node's lifetime and stops reading only after calling
// Stop.
func NewNode(me int32, peers []PeerClient, applyCh chan ApplyMsg, opts Options) *Node {
	opts = opts.withDefaults()

	n := &Node{
		me:                me,
		peers:             peers,
		votedFor:          -1,
		role:              Follower,
		log:               []LogEntry{{Term: 0, Command: nil}},
		nextIndex:         make([]int, len(peers)),
		matchIndex:        make([]int, len(peers)),
		applyCh:           applyCh,
		resetCh:           make(chan struct{}, 1),
		commitReq:         make(chan int, 1),
		done:              make(chan struct{}),
		persister:         opts.Persister,
		logger:            opts.Logger,
		electionMin:       opts.ElectionMinTimeout,
		electionMax:       opts.ElectionMaxTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
		maxAppendEntries:  opts.MaxAppendEntries,
	}
	if n.logger == nil {
		n.logger = NewLogger(os.Stderr, LevelInfo)
	}

	n.restorePersisted()
	for p := range n.peers {
		n.nextIndex[p] = len(n.log)
	}

	go n.runElectionTimer()
	go n.runApplier()

	return n
}

// Start submits command for replication. If this node is not the leader
// it returns immediately with isLeader=false; the caller must retry
// elsewhere. Commitment is observed asynchronously on the apply channel,
// never as a direct result of this call.
func (n *Node) Start(command []byte) (index int, term uint64, isLeader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Leader {
		return len(n.log), n.currentTerm, false
	}

	n.log = append(n.log, LogEntry{Term: n.currentTerm, Command: command})
	newLast := len(n.log) - 1
	n.matchIndex[n.me] = newLast
	n.persistLocked()

	return newLast, n.currentTerm, true
}

// GetState reports the current term and whether this node believes it is
// the leader.
func (n *Node) GetState() (term uint64, isLeader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm, n.role == Leader
}

// ID returns the node's own peer index.
func (n *Node) ID() int32 { return n.me }

// Stop halts the node's background tasks. The apply channel is left open;
// the caller should stop reading from it after calling Stop.
func (n *Node) Stop() {
	select {
	case <-n.done:
	default:
		close(n.done)
	}
}

// signalReset notifies the election timer without blocking: the channel
// is bounded to 1 and an already-pending signal makes a second one
// redundant.
func (n *Node) signalReset() {
	select {
	case n.resetCh <- struct{}{}:
	default:
	}
}

// adoptTermLocked implements the term-adoption invariant: any observed
// term greater than current_term forces current_term := term, voted_for
// := -1, role := Follower, with the election timer reset. Callers must
// hold n.mu.
func (n *Node) adoptTermLocked(term uint64) {
	old := n.role
	n.currentTerm = term
	n.votedFor = -1
	n.role = Follower
	n.persistLocked()
	if old != Follower {
		n.logger.LogStateChange(n.me, old, Follower, term)
	}
	n.signalReset()
}

// stepDownLocked is adoptTermLocked restricted to the case callers care
// about: a higher term observed in an RPC reply. Callers must hold n.mu
// and must have already checked term > n.currentTerm.
func (n *Node) stepDownLocked(term uint64) {
	n.logger.LogStepDown(n.me, n.currentTerm, term)
	n.adoptTermLocked(term)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
