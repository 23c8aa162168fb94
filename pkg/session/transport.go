package session

import (
	"net/http"
	"time"
)

// TokenReader extracts a session credential from a request
type TokenReader interface {
	// GetToken returns the session id carried by the request or ErrNoCredential
	GetToken(r *http.Request) (string, error)
}

// Transport defines how session ids are transmitted between client and server
type Transport interface {
	TokenReader

	// SetToken sends the session id in the response
	SetToken(w http.ResponseWriter, token string, ttl time.Duration) error

	// ClearToken removes the session id from the response
	ClearToken(w http.ResponseWriter) error
}

// DefaultCredentials reads the cookie first and the bearer header second.
func DefaultCredentials(cfg Config) ReaderChain {
	return ReaderChain{
		NewCookieTransport(cfg),
		NewHeaderTransport("Authorization"),
	}
}
