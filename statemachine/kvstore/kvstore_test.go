package kvstore

import (
	"testing"
	"time"

	"github.com/halvard/raft/raft"
)

func TestEncodeDecodeCommand(t *testing.T) {
	cmd := Command{Op: OpPut, Key: "k", Value: []byte("v")}
	data, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	got, err := DecodeCommand(data)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if got.Op != cmd.Op || got.Key != cmd.Key || string(got.Value) != string(cmd.Value) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cmd)
	}
}

func TestApplyPutAndDelete(t *testing.T) {
	s := NewStore()

	putData, _ := EncodeCommand(Command{Op: OpPut, Key: "a", Value: []byte("1")})
	s.Apply(raft.ApplyMsg{Valid: true, Index: 1, Command: putData})

	v, ok := s.Get("a")
	if !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q (ok=%v)", v, ok)
	}
	if s.LastApplied() != 1 {
		t.Fatalf("expected LastApplied=1, got %d", s.LastApplied())
	}

	delData, _ := EncodeCommand(Command{Op: OpDelete, Key: "a"})
	s.Apply(raft.ApplyMsg{Valid: true, Index: 2, Command: delData})

	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected a to be deleted")
	}
}

func TestRunDrainsApplyChannel(t *testing.T) {
	s := NewStore()
	applyCh := make(chan raft.ApplyMsg, 4)
	done := make(chan struct{})
	defer close(done)

	go s.Run(applyCh, done)

	data, _ := EncodeCommand(Command{Op: OpPut, Key: "k", Value: []byte("v")})
	applyCh <- raft.ApplyMsg{Valid: true, Index: 1, Command: data}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := s.Get("k"); ok && string(v) == "v" {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Run did not apply the queued command in time")
}
