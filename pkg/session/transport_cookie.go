package session

import (
	"net/http"
	"time"
)

// CookieTransport implements Transport using a plain HttpOnly cookie whose value is the session id
type CookieTransport struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
}

// NewCookieTransport creates a cookie transport from the session configuration
func NewCookieTransport(cfg Config) *CookieTransport {
	path := cfg.CookiePath
	if path == "" {
		path = "/"
	}
	return &CookieTransport{
		name:     cfg.CookieName,
		path:     path,
		domain:   cfg.CookieDomain,
		secure:   cfg.SecureCookies,
		sameSite: cfg.SameSiteMode(),
	}
}

// Name returns the cookie name
func (t *CookieTransport) Name() string {
	return t.name
}

// GetToken extracts the session id from the cookie
func (t *CookieTransport) GetToken(r *http.Request) (string, error) {
	c, err := r.Cookie(t.name)
	if err != nil || c.Value == "" {
		return "", ErrNoCredential
	}
	return c.Value, nil
}

// SetToken stores the session id in a cookie
func (t *CookieTransport) SetToken(w http.ResponseWriter, token string, ttl time.Duration) error {
	http.SetCookie(w, &http.Cookie{
		Name:     t.name,
		Value:    token,
		Path:     t.path,
		Domain:   t.domain,
		MaxAge:   int(ttl.Seconds()),
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: t.sameSite,
	})
	return nil
}

// ClearToken expires the session cookie
func (t *CookieTransport) ClearToken(w http.ResponseWriter) error {
	http.SetCookie(w, &http.Cookie{
		Name:     t.name,
		Value:    "",
		Path:     t.path,
		Domain:   t.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: t.sameSite,
	})
	return nil
}
