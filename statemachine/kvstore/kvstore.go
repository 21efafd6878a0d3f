// Package kvstore is a small replicated key-value store used to exercise
// a raft.Node end to end: decode a command, apply it to local state,
// consuming commands off the node's one-way apply channel rather than
// returning a result from Start directly.
package kvstore

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/halvard/raft/raft"
)

// Op names the operation a Command performs.
type Op int

const (
	OpPut Op = iota
	OpDelete
)

// Command is the gob-encoded payload passed to raft.Node.Start.
type Command struct {
	Op    Op
	Key   string
	Value []byte
}

// EncodeCommand gob-encodes a Command for Start.
func EncodeCommand(c Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCommand reverses EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c)
	return c, err
}

// Store is the replicated state machine: a plain map, mutated only by
// Apply as entries arrive already committed, never by a direct client
// call. Reads are local and may be stale on a non-leader node.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	appliedMu   sync.Mutex
	lastApplied int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get reads key from local state.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Run drains applyCh until it is closed or done fires, applying each
// committed entry in order. It is meant to run in its own goroutine for
// the lifetime of the owning raft.Node.
func (s *Store) Run(applyCh <-chan raft.ApplyMsg, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, open := <-applyCh:
			if !open {
				return
			}
			s.Apply(msg)
		}
	}
}

// Apply decodes and applies one committed entry. A decode failure is
// silently ignored: the log only ever contains what this store itself
// encoded via EncodeCommand.
func (s *Store) Apply(msg raft.ApplyMsg) {
	cmd, err := DecodeCommand(msg.Command)
	if err != nil {
		return
	}

	s.mu.Lock()
	switch cmd.Op {
	case OpPut:
		s.data[cmd.Key] = cmd.Value
	case OpDelete:
		delete(s.data, cmd.Key)
	}
	s.mu.Unlock()

	s.appliedMu.Lock()
	s.lastApplied = msg.Index
	s.appliedMu.Unlock()
}

// LastApplied returns the index of the most recently applied entry.
func (s *Store) LastApplied() int {
	s.appliedMu.Lock()
	defer s.appliedMu.Unlock()
	return s.lastApplied
}
