package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

type sessionContextKey struct{}

type resolutionContextKey struct{}

type revokeContextKey struct{}

// WithSession adds a session to the context
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// FromContext retrieves a session from the context
func FromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(*Session)
	return session, ok && session != nil
}

// MustFromContext retrieves a session from the context or panics
func MustFromContext(ctx context.Context) *Session {
	session, ok := FromContext(ctx)
	if !ok {
		panic("session: not found in context")
	}
	return session
}

// UserIDFromContext retrieves the user ID from the session in context
func UserIDFromContext(ctx context.Context) (int64, bool) {
	session, ok := FromContext(ctx)
	if !ok || !session.IsAuthenticated() {
		return 0, false
	}
	return *session.UserID, true
}

func withResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionContextKey{}, res)
}

// ResolutionFromContext reports how the attached session was resolved
func ResolutionFromContext(ctx context.Context) (Resolution, bool) {
	res, ok := ctx.Value(resolutionContextKey{}).(Resolution)
	return res, ok
}

// Revoke asks the middleware to clear the client credential instead of
// re-issuing it when the response is written. It reports false outside the
// middleware. Deleting the stored session is left to the caller.
func Revoke(ctx context.Context) bool {
	flag, ok := ctx.Value(revokeContextKey{}).(*atomic.Bool)
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

func withRevocation(ctx context.Context) (context.Context, *atomic.Bool) {
	flag := new(atomic.Bool)
	return context.WithValue(ctx, revokeContextKey{}, flag), flag
}

// LoggerExtractor adds the attached session id to log records
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if session, ok := FromContext(ctx); ok {
			return logger.SessionID(session.ID), true
		}
		return slog.Attr{}, false
	}
}
