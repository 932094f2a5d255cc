package session

import (
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateCreated - Session exists, no chunk ingested yet.
	StateCreated State = iota
	// StateActive - At least one chunk ingested, accepting more.
	StateActive
	// StateFinalizing - Stop requested, final pass running or in grace period.
	StateFinalizing
	// StateClosed - Session is closed. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CREATED → ACTIVE → FINALIZING → CLOSED
//	   │                   ▲           ▲
//	   └── Stop() ─────────┘           │
//	   any state ── Close() ───────────┘
//
// Rules:
//   - CREATED, ACTIVE: accept chunks; Activate() moves CREATED to ACTIVE
//   - FINALIZING: rejects chunks and a second stop
//   - CLOSED: all operations return ErrSessionInactive
type Lifecycle struct {
	mu        sync.RWMutex
	sessionID string
	state     State
}

// NewLifecycle creates a new session lifecycle in CREATED state.
func NewLifecycle(sessionID string) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		state:     StateCreated,
	}
}

// SessionID returns the session ID.
func (l *Lifecycle) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsChunks returns true if chunks can be pushed.
func (l *Lifecycle) AcceptsChunks() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateCreated || l.state == StateActive
}

// IsClosed returns true if the session is closed.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Activate records a successful chunk ingestion. Idempotent while active.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateCreated:
		l.state = StateActive
		return nil
	case StateActive:
		return nil
	case StateFinalizing, StateClosed:
		return ErrSessionInactive
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// BeginFinalize transitions to FINALIZING. Only one caller succeeds.
func (l *Lifecycle) BeginFinalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateCreated, StateActive:
		l.state = StateFinalizing
		return nil
	case StateFinalizing, StateClosed:
		return ErrSessionInactive
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the session to CLOSED from any state.
// Returns true if the session was closed by this call, false if it
// already was.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
