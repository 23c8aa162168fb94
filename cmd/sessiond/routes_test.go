package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/httpserver"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

type testApp struct {
	store     *session.MemoryStore
	router    http.Handler
	forgotten []string
}

func newTestApp(t *testing.T, checks map[string]httpserver.Check) *testApp {
	t.Helper()

	app := &testApp{store: session.NewMemoryStore()}
	cfg := session.DefaultConfig()
	svc := session.NewService(app.store, cfg)

	app.router = newRouter(routerDeps{
		svc:        svc,
		middleware: session.NewMiddleware(svc, cfg),
		checks:     checks,
		forget: func(_ context.Context, id string) error {
			app.forgotten = append(app.forgotten, id)
			return nil
		},
		log: logger.Discard(),
	})
	return app
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (a *testApp) do(t *testing.T, method, path string, cookie *http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func cookieOf(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	return nil
}

func TestRoutes_SessionLifecycle(t *testing.T) {
	app := newTestApp(t, nil)

	rec, env := app.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := cookieOf(rec)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var view sessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, cookie.Value, view.ID)
	assert.Equal(t, "creation", view.Resolution)
	assert.False(t, view.Authenticated)

	rec, env = app.do(t, http.MethodGet, "/session", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, cookie.Value, view.ID)
	assert.Equal(t, "credential", view.Resolution)

	rec, env = app.do(t, http.MethodPost, "/session/user/42", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Authenticated)
	require.NotNil(t, view.UserID)
	assert.Equal(t, int64(42), *view.UserID)

	rec, env = app.do(t, http.MethodGet, "/session/user/42", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []sessionView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, cookie.Value, views[0].ID)

	rec, _ = app.do(t, http.MethodDelete, "/session", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := cookieOf(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Equal(t, 0, app.store.Len())
	assert.Equal(t, []string{cookie.Value}, app.forgotten)
}

func TestRoutes_UserGuards(t *testing.T) {
	app := newTestApp(t, nil)

	rec, _ := app.do(t, http.MethodGet, "/session", nil)
	cookie := cookieOf(rec)
	require.NotNil(t, cookie)

	rec, env := app.do(t, http.MethodPost, "/session/user/abc", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Code)

	rec, _ = app.do(t, http.MethodPost, "/session/user/0", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = app.do(t, http.MethodGet, "/session/user/7", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unauthorized", env.Error.Code)
	assert.NotNil(t, cookieOf(rec), "client errors keep the cookie")

	rec, _ = app.do(t, http.MethodPost, "/session/user/7", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = app.do(t, http.MethodPost, "/session/user/8", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	stored, err := app.store.FindByID(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *stored.UserID)
}

func TestRoutes_UserListingHidesSiblingIDs(t *testing.T) {
	app := newTestApp(t, nil)

	rec, _ := app.do(t, http.MethodGet, "/session", nil)
	victim := cookieOf(rec)
	rec, _ = app.do(t, http.MethodGet, "/session", nil)
	other := cookieOf(rec)
	require.NotNil(t, victim)
	require.NotNil(t, other)

	app.do(t, http.MethodPost, "/session/user/42", victim)
	app.do(t, http.MethodPost, "/session/user/42", other)

	rec, env := app.do(t, http.MethodGet, "/session/user/42", other)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), victim.Value)

	var views []sessionView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)

	handles := map[string]sessionView{}
	for _, v := range views {
		handles[v.Handle] = v
	}
	mine := handles[session.Handle(other.Value)]
	assert.Equal(t, other.Value, mine.ID)
	assert.True(t, mine.Current)

	sibling, ok := handles[session.Handle(victim.Value)]
	require.True(t, ok)
	assert.Empty(t, sibling.ID)
	assert.False(t, sibling.Current)

	// a handle is not a credential
	rec, env = app.do(t, http.MethodGet, "/session", &http.Cookie{Name: "session", Value: sibling.Handle})
	require.Equal(t, http.StatusOK, rec.Code)
	var view sessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.NotEqual(t, victim.Value, view.ID)
	assert.False(t, view.Authenticated)
}

func TestRoutes_LogoutUser(t *testing.T) {
	app := newTestApp(t, nil)

	rec, _ := app.do(t, http.MethodGet, "/session", nil)
	first := cookieOf(rec)
	rec, _ = app.do(t, http.MethodGet, "/session", nil)
	second := cookieOf(rec)
	require.NotNil(t, first)
	require.NotNil(t, second)

	app.do(t, http.MethodPost, "/session/user/5", first)
	app.do(t, http.MethodPost, "/session/user/5", second)

	rec, _ = app.do(t, http.MethodDelete, "/session/user/5", first)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, app.store.Len())
	assert.ElementsMatch(t, []string{first.Value, second.Value}, app.forgotten)
}

func TestRoutes_Health(t *testing.T) {
	app := newTestApp(t, map[string]httpserver.Check{
		"store": func(context.Context) error { return errors.New("down") },
	})

	rec, _ := app.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, cookieOf(rec), "probes bypass session resolution")

	rec, _ = app.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
