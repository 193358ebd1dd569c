package orchestrator

import "sync"

// sessionLocks serializes turns per session while leaving unrelated
// sessions fully parallel. Entries are reference counted and removed once
// the last holder releases, so the map does not grow with session churn.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock is held and returns the release
// function.
func (s *sessionLocks) acquire(id string) func() {
	s.mu.Lock()
	entry, ok := s.locks[id]
	if !ok {
		entry = &sessionLock{}
		s.locks[id] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
