package core

import (
	"time"
)

// SessionStatus tracks the lifecycle of a conversation session.
type SessionStatus string

const (
	// SessionActive accepts new turns.
	SessionActive SessionStatus = "ACTIVE"
	// SessionCompleted finished with a final answer. Terminal.
	SessionCompleted SessionStatus = "COMPLETED"
	// SessionFailed terminated with a structured failure. Terminal.
	SessionFailed SessionStatus = "FAILED"
	// SessionExpired was retired by the TTL sweeper. Terminal.
	SessionExpired SessionStatus = "EXPIRED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// CanTransitionTo reports whether the transition s -> next is legal. Only
// ACTIVE sessions may move; terminal statuses never go back to ACTIVE.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	return s == SessionActive
}

// Session identifies one ongoing conversation. The turn log itself is owned
// by the memory store; Session carries only identity and lifecycle state.
type Session struct {
	ID      string        `json:"id"`
	Status  SessionStatus `json:"status"`
	Created time.Time     `json:"created"`
	Updated time.Time     `json:"updated"`
}

// NewSession allocates an ACTIVE session with a fresh ID.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:      NewID(),
		Status:  SessionActive,
		Created: now,
		Updated: now,
	}
}

// Clone returns a copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	return &clone
}
