// Package rafttest is an in-memory fake transport for exercising
// raft.Node without real sockets: a Network holds every node's dispatch
// function and a reachability matrix, and a Link implements
// raft.PeerClient by looking up the target directly instead of dialing
// it, so tests can flip reachability to simulate partitions without any
// real I/O latency.
package rafttest

import (
	"sync"

	"github.com/halvard/raft/raft"
)

// Network is a fake cluster fabric shared by a fixed set of peer ids.
// Construct one with NewNetwork, build each node's Link set with
// Links(id, n), pass those to raft.NewNode, then Attach each resulting
// node so the Links can reach it.
type Network struct {
	mu        sync.RWMutex
	handlers  map[int32]func(method string, args []byte) (reply []byte, err error)
	reachable map[[2]int32]bool
}

// NewNetwork returns a Network with every peer initially reachable from
// every other peer.
func NewNetwork() *Network {
	return &Network{
		handlers:  make(map[int32]func(string, []byte) ([]byte, error)),
		reachable: make(map[[2]int32]bool),
	}
}

// Attach registers id's RPC dispatch function (a raft.Node's ServeRPC)
// with the network. Must be called once per node after construction.
func (net *Network) Attach(id int32, serve func(method string, args []byte) (reply []byte, err error)) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.handlers[id] = serve
}

// Links builds the []raft.PeerClient to hand to raft.NewNode for node
// id, among peer ids 0..n-1. The slot at id itself is nil, matching the
// convention that a Node never dials peers[me].
func (net *Network) Links(id int32, n int) []raft.PeerClient {
	peers := make([]raft.PeerClient, n)
	for i := 0; i < n; i++ {
		if int32(i) == id {
			continue
		}
		peers[i] = &link{net: net, from: id, to: int32(i)}
	}
	return peers
}

// SetReachable controls whether from can currently reach to. A call
// between two peers fails if either direction is marked unreachable,
// since the reply has to travel back; marking one direction is enough
// to cut the link both ways.
func (net *Network) SetReachable(from, to int32, ok bool) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.reachable[[2]int32{from, to}] = ok
}

// isReachable defaults to true for any pair never explicitly set.
func (net *Network) isReachable(from, to int32) bool {
	net.mu.RLock()
	defer net.mu.RUnlock()
	v, set := net.reachable[[2]int32{from, to}]
	if !set {
		return true
	}
	return v
}

// link implements raft.PeerClient by calling straight into the target
// node's ServeRPC, honoring the network's reachability matrix.
type link struct {
	net  *Network
	from int32
	to   int32
}

func (l *link) Call(method string, args []byte) ([]byte, bool) {
	if !l.net.isReachable(l.from, l.to) || !l.net.isReachable(l.to, l.from) {
		return nil, false
	}
	l.net.mu.RLock()
	handler, ok := l.net.handlers[l.to]
	l.net.mu.RUnlock()
	if !ok {
		return nil, false
	}
	reply, err := handler(method, args)
	if err != nil {
		return nil, false
	}
	return reply, true
}
