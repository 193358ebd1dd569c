// Package memory owns the durable and semi-durable conversation state for a
// session: a status register plus an append-only ordered turn log. The store
// does not interpret turn content; all loop semantics live in the
// orchestrator package.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwielgat/agentd/core"
)

// ErrSessionNotFound is returned for operations against an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// StorageError reports an unavailable backing store. It is fatal to the
// current request and never retried by the core.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error for errors.Is/As.
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the memory abstraction read and written by the orchestration
// loop. Mutations are externally observable via GetHistory on the next read;
// appends are atomic per turn. Implementations serialize appends per session
// while allowing unrelated sessions to proceed in parallel.
type Store interface {
	// CreateSession allocates a new session with status ACTIVE.
	CreateSession(ctx context.Context) (*core.Session, error)

	// GetSession returns the session's identity and lifecycle state.
	GetSession(ctx context.Context, sessionID string) (*core.Session, error)

	// AppendTurn appends to the ordered turn sequence. It fails with
	// ErrSessionNotFound for unknown sessions and *core.InvalidStateError
	// when the session status is not ACTIVE.
	AppendTurn(ctx context.Context, sessionID string, turn core.Turn) error

	// GetHistory returns turns in insertion order; the last maxTurns when
	// maxTurns > 0, all otherwise. It never mutates stored state.
	GetHistory(ctx context.Context, sessionID string, maxTurns int) ([]core.Turn, error)

	// SetStatus transitions the session status, failing with
	// *core.InvalidTransitionError on illegal transitions.
	SetStatus(ctx context.Context, sessionID string, status core.SessionStatus) error

	// PutState merges key/value facts into the session's working memory.
	PutState(ctx context.Context, sessionID string, delta map[string]string) error

	// GetState returns a copy of the session's working memory.
	GetState(ctx context.Context, sessionID string) (map[string]string, error)

	// CountSessions reports the number of stored sessions.
	CountSessions(ctx context.Context) (int, error)

	// ExpireIdle marks ACTIVE sessions whose last update precedes cutoff as
	// EXPIRED and reports how many were retired. Called by the TTL sweeper,
	// never by the loop.
	ExpireIdle(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases backing resources.
	Close() error
}
