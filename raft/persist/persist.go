// Package persist provides raft.Persister implementations: an in-memory
// one for tests and a file-backed one for an actual restart-surviving
// node, both storing the single opaque byte blob a Node hands them.
package persist

import (
	"os"
	"sync"
)

// Memory is a raft.Persister that keeps its state in a byte slice. It is
// safe for concurrent use, though a Node never calls it concurrently
// with itself (persistence happens while n.mu is held).
type Memory struct {
	mu    sync.Mutex
	state []byte
}

// NewMemory returns an empty in-memory persister.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = append([]byte(nil), state...)
	return nil
}

func (m *Memory) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.state...), nil
}

// File is a raft.Persister backed by a single file on disk. Save
// overwrites the file's contents; Load returns (nil, nil) if the file
// does not yet exist, matching a fresh node's first boot.
type File struct {
	path string
}

// NewFile returns a persister that reads and writes path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Save(state []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, state, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
