package clientdetect

import (
	"context"
	"net/http"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// Exact matches sessions whose stored IP and User-Agent equal the request's.
type Exact struct {
	scan
}

// NewExact creates an exact-match detector over store.
func NewExact(store session.Store, opts ...Option) *Exact {
	return &Exact{scan: newScan(store, opts)}
}

// FindSimilarClients returns exact matches, most recently updated first
func (d *Exact) FindSimilarClients(ctx context.Context, r *http.Request, includeCurrent bool) ([]session.ClientIdentity, error) {
	return d.run(ctx, r, includeCurrent, func(current, stored session.Payload) (float64, bool) {
		if current.IP == "" || current.UserAgent == "" {
			return 0, false
		}
		return 1, current.IP == stored.IP && current.UserAgent == stored.UserAgent
	})
}
