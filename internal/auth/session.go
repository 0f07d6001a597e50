package auth

import "time"

// SessionStore defines the persistence contract for session identifiers.
// Sessions are volatile by design: the panel holds a single shared secret,
// so a restart simply forces a fresh login.
type SessionStore interface {
	// Save records the session with the given expiry, replacing any
	// previous entry for the identifier.
	Save(id string, expiresAt time.Time) error
	// Get returns the session expiry when the identifier is known.
	Get(id string) (time.Time, bool, error)
	// Touch extends the expiry only when the session still exists, so a
	// concurrent revocation cannot be undone by a validation racing it.
	Touch(id string, expiresAt time.Time) (bool, error)
	// Delete removes the session; deleting an absent session is a no-op.
	Delete(id string) error
	// PurgeExpired removes every session whose expiry has passed.
	PurgeExpired(now time.Time) error
}
