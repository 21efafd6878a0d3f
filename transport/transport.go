// Package transport wires a raft.Node to real sockets over net/rpc,
// grounded in the dial-on-demand peer pattern shown across the pack's
// Raft examples (ConnectToPeer/DoRPC): one Server listens per node, and
// one lazily-dialed *rpc.Client per peer carries calls out.
package transport

import (
	"errors"
	"net"
	"net/rpc"
	"sync"
)

// RPCFunc answers one RPC call by method name, given its gob-encoded
// argument bytes, returning the gob-encoded reply bytes. raft.Node.ServeRPC
// satisfies this signature.
type RPCFunc func(method string, args []byte) (reply []byte, err error)

// raftService is the net/rpc-visible wrapper registered under the name
// "Raft". Its exported methods are named so net/rpc's own "Type.Method"
// convention produces exactly the wire names "Raft.RequestVote" and
// "Raft.AppendEntries" that a Node expects to receive in ServeRPC.
type raftService struct {
	serve RPCFunc
}

// Envelope carries an RPC's argument or reply payload across net/rpc as
// an opaque gob blob, leaving the actual RequestVote/AppendEntries
// encoding entirely to package raft.
type Envelope struct {
	Payload []byte
}

func (s *raftService) RequestVote(args Envelope, reply *Envelope) error {
	return s.call("Raft.RequestVote", args, reply)
}

func (s *raftService) AppendEntries(args Envelope, reply *Envelope) error {
	return s.call("Raft.AppendEntries", args, reply)
}

func (s *raftService) call(method string, args Envelope, reply *Envelope) error {
	out, err := s.serve(method, args.Payload)
	if err != nil {
		return err
	}
	reply.Payload = out
	return nil
}

// Server listens on a TCP socket and serves one node's RPCs. Construct
// it with NewServer, then Bind it to the node's dispatch function before
// calling Serve, resolving the chicken-and-egg problem of a node needing
// PeerClients that reference this server before the server itself has
// anything to dispatch to.
type Server struct {
	mu       sync.Mutex
	rpcSrv   *rpc.Server
	listener net.Listener
	peers    map[int32]*peerHandle
	done     chan struct{}
}

// NewServer constructs an unbound, unstarted Server.
func NewServer() *Server {
	return &Server{
		rpcSrv: rpc.NewServer(),
		peers:  make(map[int32]*peerHandle),
		done:   make(chan struct{}),
	}
}

// Bind registers serve as the handler for this server's "Raft" service.
// Must be called exactly once, before Serve.
func (s *Server) Bind(serve RPCFunc) error {
	return s.rpcSrv.RegisterName("Raft", &raftService{serve: serve})
}

// Serve starts accepting connections on addr ("host:port"; an empty host
// or port 0 picks an available one) and returns once the listener is up.
// Accepted connections are served in the background until Shutdown.
func (s *Server) Serve(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.rpcSrv.ServeConn(conn)
		}
	}()
	return nil
}

// GetListenAddr returns the address this server is listening on.
func (s *Server) GetListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting new connections and closes the listener and
// every peer connection this server dialed.
func (s *Server) Shutdown() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, p := range s.peers {
		p.close()
	}
	s.peers = make(map[int32]*peerHandle)
	return err
}

// ConnectToPeer registers the dial target for peer, without dialing yet:
// the connection is opened lazily on first Call, matching
// rpc.Dial-on-demand in the pack's other net/rpc-based Raft transports.
func (s *Server) ConnectToPeer(peer int32, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer] = &peerHandle{addr: addr}
}

// DisconnectPeer closes any live connection to peer and forgets its
// address, so the next Call to it fails until ConnectToPeer or
// ReconnectPeer is called again. Used by tests to simulate a network
// partition.
func (s *Server) DisconnectPeer(peer int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[peer]; ok {
		p.close()
		delete(s.peers, peer)
	}
}

// ReconnectPeer restores a peer's dial target after DisconnectPeer.
func (s *Server) ReconnectPeer(peer int32, addr string) {
	s.ConnectToPeer(peer, addr)
}

// DisconnectAll tears down every peer connection, leaving this server's
// own listener intact.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.peers {
		p.close()
		delete(s.peers, id)
	}
}

// Peer returns a raft.PeerClient backed by peer's connection, dialing it
// lazily on first use. The returned value is stable for the Server's
// lifetime and safe for concurrent use by a Node's many per-peer
// replication goroutines.
func (s *Server) Peer(peer int32) *Peer {
	return &Peer{server: s, id: peer}
}

// Peer implements raft.PeerClient over one of this Server's registered
// peer connections.
type Peer struct {
	server *Server
	id     int32
}

// Call dials peer on first use (or after a failed call closed the
// connection), issues the RPC, and reports ok=false on any failure —
// dial, call, or a peer that is not registered (never connected, or
// removed by DisconnectPeer/DisconnectAll).
func (p *Peer) Call(method string, args []byte) (reply []byte, ok bool) {
	p.server.mu.Lock()
	handle, registered := p.server.peers[p.id]
	p.server.mu.Unlock()
	if !registered {
		return nil, false
	}

	client, err := handle.dial()
	if err != nil {
		return nil, false
	}

	var env Envelope
	if err := client.Call(method, Envelope{Payload: args}, &env); err != nil {
		handle.close()
		return nil, false
	}
	return env.Payload, true
}

// peerHandle lazily owns the *rpc.Client for one peer address.
type peerHandle struct {
	mu     sync.Mutex
	addr   string
	client *rpc.Client
}

func (h *peerHandle) dial() (*rpc.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}
	if h.addr == "" {
		return nil, errors.New("transport: peer has no address")
	}
	c, err := rpc.Dial("tcp", h.addr)
	if err != nil {
		return nil, err
	}
	h.client = c
	return c, nil
}

func (h *peerHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
}
