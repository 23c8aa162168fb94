package session

import (
	"context"
	"net/http"
)

// ClientIdentity is a comparison artifact linking a stored session to the
// client attributes it was captured with. It is never persisted.
type ClientIdentity struct {
	// ID is the candidate session id
	ID         string
	IPAddress  string
	UserAgent  string
	Attributes map[string]string
	// Score is the similarity reported by the detector, 1 for exact matches
	Score float64
}

// ClientDetector finds stored sessions that look like the client behind a request.
type ClientDetector interface {
	// FindSimilarClients returns candidates best match first.
	// When includeCurrent is false the session named by the request's own
	// credential is left out.
	FindSimilarClients(ctx context.Context, r *http.Request, includeCurrent bool) ([]ClientIdentity, error)

	// IsRequestSuspicious flags traffic that must not be matched to an existing session
	IsRequestSuspicious(r *http.Request) bool
}

// ClientRecorder is implemented by detectors that keep their own index of
// client payloads and need to learn about newly created sessions.
type ClientRecorder interface {
	RecordClient(ctx context.Context, session *Session, payload Payload) error
}

// ClientUpdater is implemented by detectors whose index carries session fields
// that change after creation, such as the owning user.
type ClientUpdater interface {
	UpdateClient(ctx context.Context, session *Session) error
}

// NoopDetector never finds similar clients.
type NoopDetector struct{}

// FindSimilarClients always returns no candidates
func (NoopDetector) FindSimilarClients(context.Context, *http.Request, bool) ([]ClientIdentity, error) {
	return nil, nil
}

// IsRequestSuspicious always returns false
func (NoopDetector) IsRequestSuspicious(*http.Request) bool {
	return false
}
