package raft

import (
	"fmt"
	"io"
	"log"
)

// LogLevel controls which Logger calls actually write a line.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger provides structured, leveled logging for a Node's state
// transitions. One line per significant event, tagged with node id and
// term so a multi-node test run can be read back in order.
type Logger struct {
	out   *log.Logger
	level LogLevel
}

// NewLogger builds a Logger writing to w at the given minimum level.
func NewLogger(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		out:   log.New(w, "", log.Ltime|log.Lmicroseconds),
		level: level,
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l != nil && l.level <= LevelDebug {
		l.line("DEBUG", format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l != nil && l.level <= LevelInfo {
		l.line("INFO", format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l != nil && l.level <= LevelWarn {
		l.line("WARN", format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l != nil && l.level <= LevelError {
		l.line("ERROR", format, args...)
	}
}

func (l *Logger) line(level, format string, args ...interface{}) {
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

// Specialized helpers for the events the protocol cares about.

func (l *Logger) LogStateChange(id int32, oldRole, newRole Role, term uint64) {
	l.Info("node %d: %s -> %s (term=%d)", id, oldRole, newRole, term)
}

func (l *Logger) LogElectionStart(id int32, term uint64) {
	l.Info("node %d: starting election for term %d", id, term)
}

func (l *Logger) LogElectionWon(id int32, term uint64, votes, needed int) {
	l.Info("node %d: won election for term %d (votes=%d, needed=%d)", id, term, votes, needed)
}

func (l *Logger) LogElectionLost(id int32, term uint64, votes, needed int) {
	l.Info("node %d: lost election for term %d (votes=%d, needed=%d)", id, term, votes, needed)
}

func (l *Logger) LogVoteGranted(id int32, candidate int32, term uint64) {
	l.Info("node %d: granted vote to %d for term %d", id, candidate, term)
}

func (l *Logger) LogVoteDenied(id int32, candidate int32, term uint64, reason string) {
	l.Debug("node %d: denied vote to %d for term %d: %s", id, candidate, term, reason)
}

func (l *Logger) LogHeartbeatSent(id int32, term uint64, peerCount int) {
	l.Debug("node %d: sent heartbeat to %d peers (term=%d)", id, peerCount, term)
}

func (l *Logger) LogHeartbeatReceived(id int32, leader int32, term uint64) {
	l.Debug("node %d: received heartbeat from %d (term=%d)", id, leader, term)
}

func (l *Logger) LogAppendEntries(id int32, leader int32, term uint64, prevIndex, count int) {
	l.Debug("node %d: append entries from %d (term=%d, prevIndex=%d, entries=%d)", id, leader, term, prevIndex, count)
}

func (l *Logger) LogCommit(id int32, index int, term uint64) {
	l.Info("node %d: committed index=%d (term=%d)", id, index, term)
}

func (l *Logger) LogStepDown(id int32, oldTerm, newTerm uint64) {
	l.Info("node %d: stepping down, term %d -> %d", id, oldTerm, newTerm)
}

func (l *Logger) LogElectionTimeout(id int32) {
	l.Debug("node %d: election timeout, becoming candidate", id)
}
