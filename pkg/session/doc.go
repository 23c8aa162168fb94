// Package session resolves every inbound HTTP request to exactly one durable
// session.
//
// Resolution runs as a short pipeline:
//
//  1. the credential carried by the request (cookie first, then an
//     "Authorization: Bearer" header) is looked up and kept if still valid;
//  2. when fingerprinting is enabled and the request is not suspicious, a
//     ClientDetector proposes similar clients whose sessions are tried in order;
//  3. otherwise a fresh anonymous session is created from a snapshot of the
//     request headers.
//
// The resolved session is attached to the request context and the session
// cookie is sent with every response whose status code is below 500.
// Invalid or expired credentials are never an error: the client simply gets a
// new session, and the stale row is left for the Sweeper.
//
// # Architecture
//
// A Store persists sessions (MemoryStore ships in this package; PostgreSQL,
// Redis and MongoDB stores live in sub-packages). A Service applies the
// lifecycle rules on top of any Store. Middleware wires the Service to the
// HTTP layer using a TokenReader for credentials, a Transport to issue them,
// a PayloadFactory and Codec for new sessions, and an optional ClientDetector.
// CachedStore puts a local LRU in front of a remote Store, and a
// CreationLimiter bounds how many sessions one client address may create.
//
// # Usage
//
//	cfg := session.DefaultConfig()
//	svc := session.NewService(session.NewMemoryStore(), cfg)
//	mw := session.NewMiddleware(svc, cfg, session.WithLogger(logger))
//
//	r := chi.NewRouter()
//	r.Use(mw.Handler)
//	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
//		sess := session.MustFromContext(r.Context())
//		fmt.Fprintln(w, sess.ID)
//	})
//
// # Error Handling
//
// Storage and detector failures abort the request through the configured
// ErrorHandler (500 "session error" by default) and the downstream handler is
// not called. Use errors.Is with ErrStorage, ErrDetection and ErrNotFound to
// tell them apart. Throttled creations carry a *LimitError matching
// ErrCreationLimited and are answered with 429 and Retry-After by default.
//
// A handler that deletes the current session should call Revoke so the
// cookie is cleared instead of re-issued.
package session
