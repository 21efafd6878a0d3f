// Package cluster wires a fixed-size group of raft.Node instances
// together over real transport.Server sockets: one process, N nodes,
// each reachable over loopback TCP. It is the harness cmd/raftdemo and
// the integration tests drive, bringing nodes up in two phases (listen,
// then connect) so a net/rpc transport never dials a peer before that
// peer is accepting connections.
package cluster

import (
	"fmt"

	"github.com/halvard/raft/raft"
	"github.com/halvard/raft/transport"
)

// Cluster owns num nodes, their transports, and the apply channel each
// node's committed entries arrive on.
type Cluster struct {
	Nodes   []*raft.Node
	Servers []*transport.Server
	ApplyCh []chan raft.ApplyMsg

	num int
}

// NewCluster constructs num nodes with their transport.Servers, but does
// not yet listen or connect them — call Serve to bring the cluster up.
// opts is applied to every node as a template; its Persister field is
// ignored in favor of persisterFor, which, if non-nil, is called once
// per node id to give each node its own durable store. A nil
// persisterFor leaves every node's state in memory only.
func NewCluster(num int, opts raft.Options, persisterFor func(id int) raft.Persister) *Cluster {
	c := &Cluster{
		Nodes:   make([]*raft.Node, num),
		Servers: make([]*transport.Server, num),
		ApplyCh: make([]chan raft.ApplyMsg, num),
		num:     num,
	}

	for i := 0; i < num; i++ {
		c.Servers[i] = transport.NewServer()
		c.ApplyCh[i] = make(chan raft.ApplyMsg, 256)
	}

	for i := 0; i < num; i++ {
		peers := make([]raft.PeerClient, num)
		for j := 0; j < num; j++ {
			if j != i {
				peers[j] = c.Servers[i].Peer(int32(j))
			}
		}
		nodeOpts := opts
		nodeOpts.Persister = nil
		if persisterFor != nil {
			nodeOpts.Persister = persisterFor(i)
		}
		node := raft.NewNode(int32(i), peers, c.ApplyCh[i], nodeOpts)
		c.Nodes[i] = node
		if err := c.Servers[i].Bind(node.ServeRPC); err != nil {
			panic(fmt.Sprintf("cluster: bind node %d: %v", i, err))
		}
	}

	return c
}

// Serve starts every node's listener, then connects every pair of peers
// once all addresses are known. Splitting these into two phases avoids
// a node dialing a peer that hasn't started listening yet.
func (c *Cluster) Serve() error {
	for i := 0; i < c.num; i++ {
		if err := c.Servers[i].Serve("127.0.0.1:0"); err != nil {
			return fmt.Errorf("cluster: serve node %d: %w", i, err)
		}
	}
	for i := 0; i < c.num; i++ {
		for j := 0; j < c.num; j++ {
			if i == j {
				continue
			}
			c.Servers[i].ConnectToPeer(int32(j), c.Servers[j].GetListenAddr().String())
		}
	}
	return nil
}

// Shutdown disconnects every peer link and stops every node and server.
func (c *Cluster) Shutdown() {
	for i := 0; i < c.num; i++ {
		c.Servers[i].DisconnectAll()
	}
	for i := 0; i < c.num; i++ {
		c.Nodes[i].Stop()
		c.Servers[i].Shutdown()
	}
}

// Submit tries Start on every node until one accepts as leader,
// returning its (index, term). It does not wait for commitment: callers
// watch the corresponding ApplyCh entry for that.
func (c *Cluster) Submit(command []byte) (index int, term uint64, ok bool) {
	for i := 0; i < c.num; i++ {
		if idx, t, isLeader := c.Nodes[i].Start(command); isLeader {
			return idx, t, true
		}
	}
	return 0, 0, false
}

// DisconnectPeer simulates a network partition: id can no longer reach
// or be reached by any other member of the cluster until ReconnectPeer.
func (c *Cluster) DisconnectPeer(id int) {
	for i := 0; i < c.num; i++ {
		if i == id {
			c.Servers[i].DisconnectAll()
			continue
		}
		c.Servers[i].DisconnectPeer(int32(id))
	}
}

// ReconnectPeer heals a partition created by DisconnectPeer.
func (c *Cluster) ReconnectPeer(id int) {
	for i := 0; i < c.num; i++ {
		if i == id {
			for j := 0; j < c.num; j++ {
				if j != id {
					c.Servers[i].ConnectToPeer(int32(j), c.Servers[j].GetListenAddr().String())
				}
			}
			continue
		}
		c.Servers[i].ConnectToPeer(int32(id), c.Servers[id].GetListenAddr().String())
	}
}
