// Package handler adapts functions returning a Response to http.HandlerFunc
// and provides the JSON envelope used by the session endpoints.
//
//	r.Get("/session", handler.Wrap(func(r *http.Request) handler.Response {
//		s, ok := session.FromContext(r.Context())
//		if !ok {
//			return handler.JSONError(handler.ErrUnauthorized)
//		}
//		return handler.JSON(s)
//	}, handler.WithLogger(log)))
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// Func handles a request and describes the reply.
type Func func(r *http.Request) Response

// Option configures Wrap
type Option func(*wrapConfig)

type wrapConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger for render failures and failed responses
func WithLogger(l *slog.Logger) Option {
	return func(c *wrapConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Wrap turns fn into an http.HandlerFunc.
func Wrap(fn Func, opts ...Option) http.HandlerFunc {
	cfg := wrapConfig{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := fn(r)
		if resp == nil {
			cfg.logger.ErrorContext(r.Context(), "Handler failed",
				logger.Error(ErrNilResponse), slog.String("path", r.URL.Path))
			resp = JSONError(ErrInternal)
		}

		if jr, ok := resp.(jsonResponse); ok && jr.body.Error != nil {
			level := slog.LevelWarn
			if jr.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			cfg.logger.LogAttrs(r.Context(), level, "Request failed",
				slog.Int("status", jr.status),
				slog.String("code", jr.body.Error.Code),
				slog.String("path", r.URL.Path),
			)
		}

		if err := resp.Render(w, r); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
			cfg.logger.ErrorContext(r.Context(), "Failed to render response",
				logger.Error(err), slog.String("path", r.URL.Path))
		}
	}
}
