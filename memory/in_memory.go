package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mwielgat/agentd/core"
)

// sessionRecord bundles a session with its turn log and working memory. The
// record-level mutex serializes appends per session while the store-level
// map lock stays short-lived, so unrelated sessions never contend.
type sessionRecord struct {
	mu      sync.Mutex
	session core.Session
	turns   []core.Turn
	state   map[string]string
}

// InMemoryStore is a volatile Store implementation keeping sessions in a
// process-local map. It is safe for concurrent access and best suited for
// tests or single-node deployments without durability requirements. Returned
// sessions and histories are copies to prevent external mutation of internal
// state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*sessionRecord)}
}

// CreateSession allocates a new ACTIVE session.
func (s *InMemoryStore) CreateSession(_ context.Context) (*core.Session, error) {
	sess := core.NewSession()

	s.mu.Lock()
	s.sessions[sess.ID] = &sessionRecord{
		session: *sess,
		state:   make(map[string]string),
	}
	s.mu.Unlock()

	return sess, nil
}

func (s *InMemoryStore) record(sessionID string) (*sessionRecord, error) {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

// GetSession returns a copy of the session's identity and lifecycle state.
func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (*core.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Clone(), nil
}

// AppendTurn appends to the session's ordered turn sequence.
func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, turn core.Turn) error {
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.session.Status != core.SessionActive {
		return &core.InvalidStateError{
			SessionID: sessionID,
			Status:    rec.session.Status,
			Op:        "append_turn",
		}
	}
	rec.turns = append(rec.turns, turn)
	rec.session.Updated = time.Now().UTC()
	return nil
}

// GetHistory returns a copy of the turn log in insertion order.
func (s *InMemoryStore) GetHistory(_ context.Context, sessionID string, maxTurns int) ([]core.Turn, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	turns := rec.turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]core.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// SetStatus transitions the session's status register.
func (s *InMemoryStore) SetStatus(_ context.Context, sessionID string, status core.SessionStatus) error {
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.session.Status.CanTransitionTo(status) {
		return &core.InvalidTransitionError{
			SessionID: sessionID,
			From:      rec.session.Status,
			To:        status,
		}
	}
	rec.session.Status = status
	rec.session.Updated = time.Now().UTC()
	return nil
}

// PutState merges key/value facts into the session's working memory.
func (s *InMemoryStore) PutState(_ context.Context, sessionID string, delta map[string]string) error {
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for k, v := range delta {
		rec.state[k] = v
	}
	rec.session.Updated = time.Now().UTC()
	return nil
}

// GetState returns a copy of the session's working memory.
func (s *InMemoryStore) GetState(_ context.Context, sessionID string) (map[string]string, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make(map[string]string, len(rec.state))
	for k, v := range rec.state {
		out[k] = v
	}
	return out, nil
}

// CountSessions reports the number of stored sessions.
func (s *InMemoryStore) CountSessions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// ExpireIdle retires ACTIVE sessions idle since before cutoff.
func (s *InMemoryStore) ExpireIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	records := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	expired := 0
	for _, rec := range records {
		rec.mu.Lock()
		if rec.session.Status == core.SessionActive && rec.session.Updated.Before(cutoff) {
			rec.session.Status = core.SessionExpired
			rec.session.Updated = time.Now().UTC()
			expired++
		}
		rec.mu.Unlock()
	}
	return expired, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
