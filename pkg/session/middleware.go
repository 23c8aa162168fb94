package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/ratelimiter"
)

// Resolution tells which step of the pipeline produced the session.
type Resolution int

const (
	ResolvedByCredential Resolution = iota + 1
	ResolvedByFingerprint
	ResolvedByCreation
)

func (r Resolution) String() string {
	switch r {
	case ResolvedByCredential:
		return "credential"
	case ResolvedByFingerprint:
		return "fingerprint"
	case ResolvedByCreation:
		return "creation"
	default:
		return "unknown"
	}
}

// Middleware resolves every request to exactly one session:
// credential, then fingerprint (optional), then creation.
type Middleware struct {
	svc          *Service
	config       Config
	detector     ClientDetector
	payloads     PayloadFactory
	codec        Codec
	transport    TokenReader
	issuer       Transport
	logger       *slog.Logger
	errorHandler ErrorHandler
	skip         func(r *http.Request) bool
	limiter      CreationLimiter
}

// CreationLimiter decides whether a client may create another session.
// *ratelimiter.Bucket satisfies it.
type CreationLimiter interface {
	Allow(ctx context.Context, key string) (*ratelimiter.Result, error)
}

// NewMiddleware creates the session resolution middleware.
func NewMiddleware(svc *Service, cfg Config, opts ...MiddlewareOption) *Middleware {
	if svc == nil {
		panic("session middleware: service is required")
	}

	m := &Middleware{
		svc:          svc,
		config:       cfg,
		detector:     NoopDetector{},
		payloads:     NewRequestPayloadFactory(""),
		codec:        JSONCodec{},
		transport:    DefaultCredentials(cfg),
		issuer:       NewCookieTransport(cfg),
		logger:       logger.Discard(),
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var limited *LimitError
	if errors.As(err, &limited) {
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		http.Error(w, "too many sessions", http.StatusTooManyRequests)
		return
	}
	http.Error(w, "session error", http.StatusInternalServerError)
}

// Handler wraps next with session resolution.
// The session cookie is attached to every response whose status is below 500.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip != nil && m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		session, res, err := m.Resolve(ctx, r)
		if errors.Is(err, ErrCreationLimited) {
			m.logger.WarnContext(ctx, "Session creation throttled", slog.String("path", r.URL.Path))
			m.errorHandler(w, r, err)
			return
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "Session resolution failed",
				logger.Error(err),
				slog.String("path", r.URL.Path),
			)
			m.errorHandler(w, r, err)
			return
		}

		m.logger.DebugContext(ctx, "Resolved session",
			logger.SessionID(session.ID),
			logger.Resolution(res.String()),
		)

		ctx = withResolution(WithSession(ctx, session), res)
		ctx, revoked := withRevocation(ctx)

		cw := &cookieWriter{
			ResponseWriter: w,
			issue: func(w http.ResponseWriter) {
				if revoked.Load() {
					if err := m.issuer.ClearToken(w); err != nil {
						m.logger.ErrorContext(ctx, "Failed to clear session credential", logger.Error(err))
					}
					return
				}
				if err := m.issuer.SetToken(w, session.ID, m.config.CookieLifetime()); err != nil {
					m.logger.ErrorContext(ctx, "Failed to issue session credential",
						logger.Error(err),
					)
				}
			},
		}
		next.ServeHTTP(cw, r.WithContext(ctx))
		cw.finish()
	})
}

// Resolve runs the resolution pipeline without touching the response.
func (m *Middleware) Resolve(ctx context.Context, r *http.Request) (*Session, Resolution, error) {
	if token, err := m.transport.GetToken(r); err == nil {
		session, err := m.svc.FindValid(ctx, token)
		if err == nil {
			// a concurrent logout surfaces here as ErrNotFound
			session, err = m.svc.Touch(ctx, session)
		}
		switch {
		case err == nil:
			return session, ResolvedByCredential, nil
		case errors.Is(err, ErrNotFound):
			m.logger.DebugContext(ctx, "Discarded invalid session credential")
		default:
			return nil, 0, err
		}
	}

	if m.config.UseFingerprint {
		session, err := m.resolveByFingerprint(ctx, r)
		if err != nil {
			return nil, 0, err
		}
		if session != nil {
			return session, ResolvedByFingerprint, nil
		}
	}

	session, err := m.create(ctx, r)
	if err != nil {
		return nil, 0, err
	}
	return session, ResolvedByCreation, nil
}

// resolveByFingerprint returns nil without error when no candidate is usable.
func (m *Middleware) resolveByFingerprint(ctx context.Context, r *http.Request) (*Session, error) {
	if m.detector.IsRequestSuspicious(r) {
		m.logger.DebugContext(ctx, "Skipped fingerprint lookup for suspicious request")
		return nil, nil
	}

	candidates, err := m.detector.FindSimilarClients(ctx, r, false)
	if err != nil {
		return nil, errors.Join(ErrDetection, err)
	}

	for _, candidate := range candidates {
		session, err := m.svc.FindValid(ctx, candidate.ID)
		if err == nil {
			session, err = m.svc.Touch(ctx, session)
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m.logger.InfoContext(ctx, "Resolved session by fingerprint",
			logger.SessionID(session.ID),
			logger.Score(candidate.Score),
		)
		return session, nil
	}

	return nil, nil
}

func (m *Middleware) create(ctx context.Context, r *http.Request) (*Session, error) {
	payload := m.payloads.FromRequest(r)

	if err := m.checkCreationLimit(ctx, payload.IP); err != nil {
		return nil, err
	}

	data, err := m.codec.Serialize(payload)
	if err != nil {
		payload = m.payloads.Default()
		data = TryEncode(m.codec, payload, "{}")
	}

	session, err := m.svc.Create(ctx, data)
	if err != nil {
		return nil, err
	}

	if recorder, ok := m.detector.(ClientRecorder); ok {
		if err := recorder.RecordClient(ctx, session, payload); err != nil {
			return nil, errors.Join(ErrDetection, err)
		}
	}

	m.logger.InfoContext(ctx, "Created new session",
		logger.SessionID(session.ID),
		logger.ClientIP(payload.IP),
	)
	return session, nil
}

func (m *Middleware) checkCreationLimit(ctx context.Context, ip string) error {
	if m.limiter == nil {
		return nil
	}

	res, err := m.limiter.Allow(ctx, "create:"+ip)
	if err != nil {
		return storageError(err)
	}
	if !res.Allowed() {
		return &LimitError{RetryAfter: res.RetryAfter(m.svc.Now())}
	}
	return nil
}
