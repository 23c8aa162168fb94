package clientdetect

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/sessionkit/pkg/clientip"
	"github.com/dmitrymomot/sessionkit/pkg/useragent"
)

const defaultMaxForwardedHops = 10

// Policy decides which requests must never be matched to an existing session.
type Policy struct {
	maxHops   int
	allowBots bool
}

// PolicyOption configures a Policy
type PolicyOption func(*Policy)

// WithMaxForwardedHops sets how long an X-Forwarded-For chain may be
func WithMaxForwardedHops(n int) PolicyOption {
	return func(p *Policy) {
		if n > 0 {
			p.maxHops = n
		}
	}
}

// WithBotsAllowed lets crawlers and HTTP libraries take part in matching
func WithBotsAllowed(v bool) PolicyOption {
	return func(p *Policy) {
		p.allowBots = v
	}
}

// NewPolicy creates the default policy.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{maxHops: defaultMaxForwardedHops}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsRequestSuspicious flags requests with an empty, automated or malformed
// User-Agent, an undeterminable client IP, or an implausible proxy chain.
func (p *Policy) IsRequestSuspicious(r *http.Request) bool {
	ua, err := useragent.Parse(r.UserAgent())
	switch {
	case errors.Is(err, useragent.ErrEmptyUserAgent), errors.Is(err, useragent.ErrMalformedUserAgent):
		return true
	case ua.IsBot() && !p.allowBots:
		return true
	}

	if clientip.GetIP(r) == "" {
		return true
	}

	return clientip.ForwardedHops(r) > p.maxHops
}
