package clientdetect

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

const defaultMaxCandidates = 5

// Option configures a detector
type Option func(*options)

type options struct {
	codec         session.Codec
	credentials   session.TokenReader
	policy        *Policy
	maxCandidates int
	anonymousOnly bool
	now           func() time.Time
	logger        *slog.Logger
}

func defaultOptions() options {
	return options{
		codec:         session.JSONCodec{},
		policy:        NewPolicy(),
		maxCandidates: defaultMaxCandidates,
		now:           time.Now,
		logger:        logger.Discard(),
	}
}

// WithCodec sets the codec used to decode stored payloads
func WithCodec(c session.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCredentials sets where the request's own session id is read from,
// so it can be excluded when includeCurrent is false.
func WithCredentials(t session.TokenReader) Option {
	return func(o *options) {
		o.credentials = t
	}
}

// WithPolicy replaces the suspicious-request policy
func WithPolicy(p *Policy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithMaxCandidates caps the number of returned candidates (0 means unlimited)
func WithMaxCandidates(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxCandidates = n
		}
	}
}

// WithAnonymousOnly restricts matching to sessions without a user
func WithAnonymousOnly(v bool) Option {
	return func(o *options) {
		o.anonymousOnly = v
	}
}

// WithClock overrides the time source used to skip expired sessions
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
