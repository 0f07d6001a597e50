package auth

import (
	"sync"
	"time"
)

// MemorySessionStore keeps session state in-memory. It is safe for concurrent
// use and is the only store the panel ships with a default for, matching the
// volatile-session design.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]time.Time
}

// NewMemorySessionStore constructs an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]time.Time)}
}

// Save records the session expiry for the identifier.
func (s *MemorySessionStore) Save(id string, expiresAt time.Time) error {
	s.mu.Lock()
	s.sessions[id] = expiresAt
	s.mu.Unlock()
	return nil
}

// Get retrieves the expiry for the identifier.
func (s *MemorySessionStore) Get(id string) (time.Time, bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.sessions[id]
	s.mu.RUnlock()
	return expiresAt, ok, nil
}

// Touch extends the expiry when the session is still present.
func (s *MemorySessionStore) Touch(id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	s.sessions[id] = expiresAt
	return true, nil
}

// Delete removes the session from the store.
func (s *MemorySessionStore) Delete(id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes expired sessions from the store.
func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for id, expiresAt := range s.sessions {
		if now.After(expiresAt) {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	return nil
}
