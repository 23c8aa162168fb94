package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// idBytes is the amount of entropy in a session id (256 bits).
const idBytes = 32

// Session is a durable record representing the continuity of a client across requests.
// Timestamps are unix seconds.
type Session struct {
	ID        string `json:"id"`
	UserID    *int64 `json:"user_id,omitempty"`
	Payload   string `json:"payload"`
	ExpiresAt int64  `json:"expires_at"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// newSession builds an anonymous session valid for ttl starting at now.
func newSession(id, payload string, now time.Time, ttl time.Duration) *Session {
	ts := now.Unix()
	return &Session{
		ID:        id,
		Payload:   payload,
		ExpiresAt: now.Add(ttl).Unix(),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// IsAuthenticated returns true if a user has been assigned to the session.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != nil
}

// IsValid reports whether the session has not yet expired at now.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && s.ExpiresAt > now.Unix()
}

// IsExpired is the negation of IsValid.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.IsValid(now)
}

// touch bumps UpdatedAt and pushes ExpiresAt to now+ttl unless it is already later.
func (s *Session) touch(now time.Time, ttl time.Duration) {
	s.UpdatedAt = max(now.Unix(), s.UpdatedAt)
	s.ExpiresAt = max(s.ExpiresAt, now.Add(ttl).Unix())
}

// Clone returns a deep copy so stores never share memory with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.UserID != nil {
		uid := *s.UserID
		c.UserID = &uid
	}
	return &c
}

// GenerateID creates a cryptographically secure session id
// encoded as a base64 URL-safe string without padding.
func GenerateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrIDGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Handle returns a one-way reference to a session id that is safe to show to
// other sessions of the same user. It cannot be presented as a credential.
func Handle(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}
