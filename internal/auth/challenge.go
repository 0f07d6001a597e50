package auth

import (
	"sync"
	"time"
)

// challengeStore keeps issued nonces with their expiry. Lookup and removal
// happen under one lock acquisition, which is what makes a nonce single-use:
// the first redemption attempt consumes it even when the proof turns out to
// be wrong.
type challengeStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

func newChallengeStore() *challengeStore {
	return &challengeStore{nonces: make(map[string]time.Time)}
}

// Put records the nonce with its expiry.
func (s *challengeStore) Put(nonce string, expiresAt time.Time) {
	s.mu.Lock()
	s.nonces[nonce] = expiresAt
	s.mu.Unlock()
}

// Take atomically removes the nonce and reports whether it was present and
// unexpired at the given instant.
func (s *challengeStore) Take(nonce string, now time.Time) bool {
	s.mu.Lock()
	expiresAt, ok := s.nonces[nonce]
	if ok {
		delete(s.nonces, nonce)
	}
	s.mu.Unlock()
	return ok && !now.After(expiresAt)
}

// PurgeExpired drops every nonce whose expiry has passed.
func (s *challengeStore) PurgeExpired(now time.Time) {
	s.mu.Lock()
	for nonce, expiresAt := range s.nonces {
		if now.After(expiresAt) {
			delete(s.nonces, nonce)
		}
	}
	s.mu.Unlock()
}
