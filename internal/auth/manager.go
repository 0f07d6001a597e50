package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCredential is returned for every challenge redemption failure:
// unknown, expired, or reused nonces as well as proof mismatches. Collapsing
// the cases denies callers an oracle for which part of the exchange failed.
var ErrInvalidCredential = errors.New("invalid credential")

const (
	// DefaultChallengeTTL bounds how long an issued nonce stays redeemable.
	DefaultChallengeTTL = 120 * time.Second
	// DefaultSessionTTL is the sliding window applied when no TTL is configured.
	DefaultSessionTTL = 24 * time.Hour

	tokenBytes = 24
)

// Option configures a Manager instance.
type Option func(*Manager)

// WithSessionStore injects a custom SessionStore implementation.
func WithSessionStore(store SessionStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithChallengeTTL overrides the challenge lifetime.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.challengeTTL = ttl
		}
	}
}

// WithClock substitutes the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenFactory substitutes the random token generator used for nonces and
// session identifiers.
func WithTokenFactory(factory func() (string, error)) Option {
	return func(m *Manager) {
		if factory != nil {
			m.tokenFactory = factory
		}
	}
}

// Manager composes the challenge store, session store, and proof verifier
// into the issue/redeem/validate/revoke lifecycle. The shared secret itself is
// never held: only its SHA-256 digest, which doubles as the HMAC key clients
// prove possession of.
type Manager struct {
	key          []byte
	sessionTTL   time.Duration
	challengeTTL time.Duration
	store        SessionStore
	challenges   *challengeStore
	tokenFactory func() (string, error)
	now          func() time.Time
}

// NewManager constructs a Manager from the hex-encoded SHA-256 digest of the
// shared secret. The manager defaults to an in-memory session store, a 24-hour
// sliding session TTL, and a 120-second challenge lifetime.
func NewManager(tokenSHA256Hex string, sessionTTL time.Duration, opts ...Option) (*Manager, error) {
	key, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(tokenSHA256Hex)))
	if err != nil {
		return nil, fmt.Errorf("decode token digest: %w", err)
	}
	if len(key) != sha256.Size {
		return nil, fmt.Errorf("token digest must be %d bytes, got %d", sha256.Size, len(key))
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	manager := &Manager{
		key:          key,
		sessionTTL:   sessionTTL,
		challengeTTL: DefaultChallengeTTL,
		challenges:   newChallengeStore(),
		tokenFactory: generateToken,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager, nil
}

// IssueChallenge creates and records a fresh single-use login nonce.
func (m *Manager) IssueChallenge() (string, error) {
	nonce, err := m.tokenFactory()
	if err != nil {
		return "", err
	}
	m.challenges.Put(nonce, m.now().Add(m.challengeTTL))
	return nonce, nil
}

// Redeem consumes the nonce and, when the supplied proof matches
// HMAC-SHA256(key, nonce), creates a session and returns its identifier.
// The nonce is removed on the first redemption attempt regardless of outcome,
// so a failed guess burns it.
func (m *Manager) Redeem(nonce, proof string) (string, error) {
	if !m.challenges.Take(nonce, m.now()) {
		return "", ErrInvalidCredential
	}
	if !m.verifyProof(nonce, proof) {
		return "", ErrInvalidCredential
	}
	id, err := m.tokenFactory()
	if err != nil {
		return "", err
	}
	if err := m.store.Save(id, m.now().Add(m.sessionTTL).UTC()); err != nil {
		return "", err
	}
	return id, nil
}

// SessionTTL returns the sliding window applied to sessions.
func (m *Manager) SessionTTL() time.Duration {
	return m.sessionTTL
}

// ValidateSession reports whether the session exists and has not expired.
// Each successful validation slides the expiry forward by the session TTL;
// an expired session is evicted on the way out.
func (m *Manager) ValidateSession(id string) bool {
	if id == "" {
		return false
	}
	expiresAt, ok, err := m.store.Get(id)
	if err != nil || !ok {
		return false
	}
	now := m.now()
	if now.After(expiresAt) {
		_ = m.store.Delete(id)
		return false
	}
	touched, err := m.store.Touch(id, now.Add(m.sessionTTL).UTC())
	if err != nil {
		return false
	}
	return touched
}

// RevokeSession removes the session unconditionally. Revoking an unknown or
// already-revoked session is a no-op.
func (m *Manager) RevokeSession(id string) {
	if id == "" {
		return
	}
	_ = m.store.Delete(id)
}

// PurgeExpired drops expired sessions and challenges from the backing stores.
func (m *Manager) PurgeExpired() error {
	now := m.now()
	m.challenges.PurgeExpired(now)
	return m.store.PurgeExpired(now)
}

func (m *Manager) verifyProof(nonce, proof string) bool {
	provided, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(proof)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(nonce))
	return hmac.Equal(mac.Sum(nil), provided)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
