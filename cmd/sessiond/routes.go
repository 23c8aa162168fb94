package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/sessionkit/handler"
	"github.com/dmitrymomot/sessionkit/pkg/clientip"
	"github.com/dmitrymomot/sessionkit/pkg/httpserver"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/requestid"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// sessionView is the public shape of a session. ID is only filled for the
// session making the request, the others are named by Handle.
type sessionView struct {
	ID            string `json:"id,omitempty"`
	Handle        string `json:"handle"`
	Current       bool   `json:"current,omitempty"`
	UserID        *int64 `json:"user_id,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Resolution    string `json:"resolution,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

func viewOf(s *session.Session, res string) sessionView {
	return sessionView{
		ID:            s.ID,
		Handle:        session.Handle(s.ID),
		Current:       true,
		UserID:        s.UserID,
		Authenticated: s.IsAuthenticated(),
		Resolution:    res,
		ExpiresAt:     s.ExpiresAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type api struct {
	svc    *session.Service
	forget func(ctx context.Context, id string) error
	log    *slog.Logger
}

type routerDeps struct {
	svc        *session.Service
	middleware *session.Middleware
	checks     map[string]httpserver.Check
	forget     func(ctx context.Context, id string) error
	log        *slog.Logger
}

func newRouter(d routerDeps) http.Handler {
	a := &api{svc: d.svc, forget: d.forget, log: d.log}
	wrap := func(fn handler.Func) http.HandlerFunc {
		return handler.Wrap(fn, handler.WithLogger(d.log))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, requestid.Middleware, clientip.Middleware)

	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(d.log, d.checks))

	r.Route("/session", func(r chi.Router) {
		r.Use(d.middleware.Handler)
		r.Get("/", wrap(a.current))
		r.Delete("/", wrap(a.logout))
		r.Get("/user/{userID}", wrap(a.userSessions))
		r.Post("/user/{userID}", wrap(a.assignUser))
		r.Delete("/user/{userID}", wrap(a.logoutUser))
	})

	return r
}

func (a *api) current(r *http.Request) handler.Response {
	s := session.MustFromContext(r.Context())
	res, _ := session.ResolutionFromContext(r.Context())
	return handler.JSON(viewOf(s, res.String()))
}

func (a *api) assignUser(r *http.Request) handler.Response {
	uid, err := userIDParam(r)
	if err != nil {
		return handler.JSONError(err)
	}

	// a bound session has to log out before switching users
	if current, ok := session.UserIDFromContext(r.Context()); ok && current != uid {
		return handler.JSONError(handler.ErrUnauthorized)
	}

	ctx := r.Context()
	updated, err := a.svc.AssignUser(ctx, session.MustFromContext(ctx), uid)
	if err != nil {
		return handler.JSONError(err)
	}

	a.log.InfoContext(ctx, "Assigned user to session", logger.UserID(&uid))
	res, _ := session.ResolutionFromContext(ctx)
	return handler.JSON(viewOf(updated, res.String()))
}

func (a *api) userSessions(r *http.Request) handler.Response {
	uid, err := userIDParam(r)
	if err != nil {
		return handler.JSONError(err)
	}
	if err := a.requireUser(r, uid); err != nil {
		return handler.JSONError(err)
	}

	ctx := r.Context()
	sessions, err := a.svc.FindByUserID(ctx, uid)
	if err != nil {
		return handler.JSONError(err)
	}

	// sibling ids are bearer credentials and never leave the server
	current := session.MustFromContext(ctx).ID
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		v := viewOf(s, "")
		if s.ID != current {
			v.ID = ""
			v.Current = false
		}
		views = append(views, v)
	}
	return handler.JSON(views)
}

func (a *api) logout(r *http.Request) handler.Response {
	ctx := r.Context()
	s := session.MustFromContext(ctx)
	if err := a.svc.Delete(ctx, s.ID); err != nil {
		return handler.JSONError(err)
	}
	a.forgetClient(ctx, s.ID)
	session.Revoke(ctx)
	return handler.NoContent()
}

func (a *api) logoutUser(r *http.Request) handler.Response {
	uid, err := userIDParam(r)
	if err != nil {
		return handler.JSONError(err)
	}
	if err := a.requireUser(r, uid); err != nil {
		return handler.JSONError(err)
	}

	ctx := r.Context()
	sessions, err := a.svc.FindByUserID(ctx, uid)
	if err != nil {
		return handler.JSONError(err)
	}
	if err := a.svc.DeleteByUserID(ctx, uid); err != nil {
		return handler.JSONError(err)
	}
	for _, s := range sessions {
		a.forgetClient(ctx, s.ID)
	}
	session.Revoke(ctx)
	return handler.NoContent()
}

// requireUser only lets a session act on the user it is bound to.
func (a *api) requireUser(r *http.Request, uid int64) error {
	current, ok := session.UserIDFromContext(r.Context())
	if !ok || current != uid {
		return handler.ErrUnauthorized
	}
	return nil
}

func (a *api) forgetClient(ctx context.Context, id string) {
	if a.forget == nil {
		return
	}
	if err := a.forget(ctx, id); err != nil {
		a.log.WarnContext(ctx, "Failed to drop client from index", logger.SessionID(id), logger.Error(err))
	}
}

func userIDParam(r *http.Request) (int64, error) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || uid <= 0 {
		return 0, errors.Join(handler.ErrBadRequest, err)
	}
	return uid, nil
}
