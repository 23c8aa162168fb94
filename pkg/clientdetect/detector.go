// Package clientdetect provides fingerprint strategies that find stored
// sessions belonging to a client that lost its credential.
//
// Exact requires the same IP and User-Agent. Scored weighs several request
// attributes and accepts candidates above a threshold. Both scan the session
// store, so they suit small and medium deployments; osdetect offers an
// indexed alternative.
package clientdetect

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// scan is shared by the store-backed strategies.
type scan struct {
	store    session.Store
	payloads session.PayloadFactory
	opts     options
}

// scored is a candidate before ordering.
type scored struct {
	session *session.Session
	payload session.Payload
	score   float64
}

func newScan(store session.Store, opts []Option) scan {
	if store == nil {
		panic("clientdetect: store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return scan{
		store:    store,
		payloads: session.NewRequestPayloadFactory(""),
		opts:     o,
	}
}

// IsRequestSuspicious delegates to the configured Policy
func (s scan) IsRequestSuspicious(r *http.Request) bool {
	return s.opts.policy.IsRequestSuspicious(r)
}

// run scores every eligible stored session against the request and returns
// matches best first.
func (s scan) run(ctx context.Context, r *http.Request, includeCurrent bool, score func(current, stored session.Payload) (float64, bool)) ([]session.ClientIdentity, error) {
	sessions, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	exclude := ""
	if !includeCurrent && s.opts.credentials != nil {
		exclude, _ = s.opts.credentials.GetToken(r)
	}

	current := s.payloads.FromRequest(r)
	now := s.opts.now()

	var matches []scored
	for _, sess := range sessions {
		if sess.ID == exclude || !sess.IsValid(now) {
			continue
		}
		if s.opts.anonymousOnly && sess.IsAuthenticated() {
			continue
		}

		stored := session.TryDecode(s.opts.codec, sess.Payload, session.Payload{})
		if stored.IsZero() {
			continue
		}

		if v, ok := score(current, stored); ok {
			matches = append(matches, scored{session: sess, payload: stored, score: v})
		}
	}

	slices.SortStableFunc(matches, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.session.UpdatedAt, a.session.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.session.ID, b.session.ID)
	})

	if n := s.opts.maxCandidates; n > 0 && len(matches) > n {
		matches = matches[:n]
	}

	out := make([]session.ClientIdentity, 0, len(matches))
	for _, m := range matches {
		out = append(out, identity(m))
	}

	s.opts.logger.DebugContext(ctx, "client similarity scan",
		logger.Count(int64(len(sessions))),
		slog.Int("candidates", len(out)),
	)
	return out, nil
}

func identity(m scored) session.ClientIdentity {
	attrs := map[string]string{}
	if m.payload.AcceptLanguage != "" {
		attrs["accept_language"] = m.payload.AcceptLanguage
	}
	if m.payload.SecChUaPlatform != "" {
		attrs["platform"] = m.payload.SecChUaPlatform
	}
	if m.payload.Fingerprint != "" {
		attrs["fingerprint"] = m.payload.Fingerprint
	}
	return session.ClientIdentity{
		ID:         m.session.ID,
		IPAddress:  m.payload.IP,
		UserAgent:  m.payload.UserAgent,
		Attributes: attrs,
		Score:      m.score,
	}
}
