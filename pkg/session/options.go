package session

import (
	"log/slog"
	"net/http"
)

// MiddlewareOption configures a Middleware
type MiddlewareOption func(*Middleware)

// ErrorHandler writes the response for a request whose session could not be resolved
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// WithDetector sets the fingerprint source used when UseFingerprint is enabled
func WithDetector(d ClientDetector) MiddlewareOption {
	return func(m *Middleware) {
		if d != nil {
			m.detector = d
		}
	}
}

// WithPayloadFactory sets how request snapshots are captured for new sessions
func WithPayloadFactory(f PayloadFactory) MiddlewareOption {
	return func(m *Middleware) {
		if f != nil {
			m.payloads = f
		}
	}
}

// WithCodec sets the payload serializer
func WithCodec(c Codec) MiddlewareOption {
	return func(m *Middleware) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithTransport sets where credentials are read from (default: cookie, then bearer header)
func WithTransport(t TokenReader) MiddlewareOption {
	return func(m *Middleware) {
		if t != nil {
			m.transport = t
		}
	}
}

// WithIssuer sets how the session id is sent back to the client (default: cookie)
func WithIssuer(t Transport) MiddlewareOption {
	return func(m *Middleware) {
		if t != nil {
			m.issuer = t
		}
	}
}

// WithLogger sets the middleware logger
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithErrorHandler overrides the response written when resolution fails
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(m *Middleware) {
		if h != nil {
			m.errorHandler = h
		}
	}
}

// WithSkip bypasses session handling for matching requests
func WithSkip(fn func(r *http.Request) bool) MiddlewareOption {
	return func(m *Middleware) {
		m.skip = fn
	}
}

// WithCreationLimiter throttles session creation per client address.
// Requests over the limit are answered by the error handler with ErrCreationLimited.
func WithCreationLimiter(l CreationLimiter) MiddlewareOption {
	return func(m *Middleware) {
		m.limiter = l
	}
}
