// Package osdetect finds similar clients through an OpenSearch index of
// session payloads instead of scanning the session store.
package osdetect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/dmitrymomot/sessionkit/pkg/clientdetect"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	ospkg "github.com/dmitrymomot/sessionkit/pkg/opensearch"
	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/useragent"
)

// ErrSearch wraps failures talking to the index.
var ErrSearch = errors.New("osdetect: search failed")

// indexMapping stores every compared attribute as an exact keyword.
const indexMapping = `{
  "mappings": {
    "properties": {
      "ip":              {"type": "keyword"},
      "user_agent":      {"type": "keyword"},
      "ua_family":       {"type": "keyword"},
      "accept_language": {"type": "keyword"},
      "accept_encoding": {"type": "keyword"},
      "platform":        {"type": "keyword"},
      "fingerprint":     {"type": "keyword"},
      "user_id":         {"type": "long"},
      "expires_at":      {"type": "long"},
      "created_at":      {"type": "long"}
    }
  }
}`

// Config of the detector
type Config struct {
	Index         string        `env:"SESSION_DETECTOR_INDEX" envDefault:"session-clients"`
	MinScore      float64       `env:"SESSION_DETECTOR_MIN_SCORE" envDefault:"0.7"`
	MaxCandidates int           `env:"SESSION_DETECTOR_MAX_CANDIDATES" envDefault:"5"`
	Retention     time.Duration `env:"SESSION_DETECTOR_RETENTION" envDefault:"24h"`
	AnonymousOnly bool          `env:"SESSION_DETECTOR_ANONYMOUS_ONLY" envDefault:"false"`
	// Refresh makes indexed clients searchable immediately (slower writes)
	Refresh bool `env:"SESSION_DETECTOR_REFRESH" envDefault:"false"`
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		Index:         "session-clients",
		MinScore:      clientdetect.DefaultThreshold,
		MaxCandidates: 5,
		Retention:     24 * time.Hour,
	}
}

// Detector implements session.ClientDetector and session.ClientRecorder.
type Detector struct {
	client      *opensearch.Client
	cfg         Config
	weights     clientdetect.Weights
	policy      *clientdetect.Policy
	payloads    session.PayloadFactory
	credentials session.TokenReader
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithPolicy replaces the suspicious-request policy
func WithPolicy(p *clientdetect.Policy) Option {
	return func(d *Detector) {
		if p != nil {
			d.policy = p
		}
	}
}

// WithWeights overrides the attribute weights
func WithWeights(w clientdetect.Weights) Option {
	return func(d *Detector) {
		d.weights = w
	}
}

// WithCredentials sets where the request's own session id is read from
func WithCredentials(t session.TokenReader) Option {
	return func(d *Detector) {
		d.credentials = t
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a detector. Call Setup once before use to create the index.
func New(client *opensearch.Client, cfg Config, opts ...Option) *Detector {
	if client == nil {
		panic("osdetect: client is required")
	}
	d := &Detector{
		client:   client,
		cfg:      cfg,
		weights:  clientdetect.DefaultWeights,
		policy:   clientdetect.NewPolicy(),
		payloads: session.NewRequestPayloadFactory(""),
		now:      time.Now,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Setup creates the index when missing
func (d *Detector) Setup(ctx context.Context) error {
	return ospkg.EnsureIndex(ctx, d.client, d.cfg.Index, indexMapping)
}

type document struct {
	IP             string `json:"ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	UAFamily       string `json:"ua_family,omitempty"`
	AcceptLanguage string `json:"accept_language,omitempty"`
	AcceptEncoding string `json:"accept_encoding,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	UserID         *int64 `json:"user_id,omitempty"`
	ExpiresAt      int64  `json:"expires_at"`
	CreatedAt      int64  `json:"created_at"`
}

func uaFamily(raw string) string {
	ua, err := useragent.Parse(raw)
	if err != nil {
		return ""
	}
	return ua.Browser + "|" + ua.OS + "|" + ua.Device
}

// RecordClient indexes the payload of a newly created session
func (d *Detector) RecordClient(ctx context.Context, s *session.Session, p session.Payload) error {
	body, err := json.Marshal(document{
		IP:             p.IP,
		UserAgent:      p.UserAgent,
		UAFamily:       uaFamily(p.UserAgent),
		AcceptLanguage: p.AcceptLanguage,
		AcceptEncoding: p.AcceptEncoding,
		Platform:       p.SecChUaPlatform,
		Fingerprint:    p.Fingerprint,
		UserID:         s.UserID,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
	})
	if err != nil {
		return errors.Join(ErrSearch, err)
	}

	opts := []func(*opensearchapi.IndexRequest){
		d.client.Index.WithDocumentID(s.ID),
		d.client.Index.WithContext(ctx),
	}
	if d.cfg.Refresh {
		opts = append(opts, d.client.Index.WithRefresh("true"))
	}

	res, err := d.client.Index(d.cfg.Index, bytes.NewReader(body), opts...)
	if err != nil {
		return errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Join(ErrSearch, fmt.Errorf("index responded %s", res.Status()))
	}
	return nil
}

// UpdateClient copies the session's owner and expiry onto its indexed
// document so the anonymous-only filter sees logins that happen after creation.
// Sessions that were never indexed are ignored.
func (d *Detector) UpdateClient(ctx context.Context, s *session.Session) error {
	body, err := json.Marshal(map[string]any{
		"doc": map[string]any{
			"user_id":    s.UserID,
			"expires_at": s.ExpiresAt,
		},
	})
	if err != nil {
		return errors.Join(ErrSearch, err)
	}

	opts := []func(*opensearchapi.UpdateRequest){
		d.client.Update.WithContext(ctx),
	}
	if d.cfg.Refresh {
		opts = append(opts, d.client.Update.WithRefresh("true"))
	}

	res, err := d.client.Update(d.cfg.Index, s.ID, bytes.NewReader(body), opts...)
	if err != nil {
		return errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return errors.Join(ErrSearch, fmt.Errorf("update responded %s", res.Status()))
	}
	return nil
}

// Forget removes a session from the index
func (d *Detector) Forget(ctx context.Context, id string) error {
	res, err := d.client.Delete(d.cfg.Index, id, d.client.Delete.WithContext(ctx))
	if err != nil {
		return errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return errors.Join(ErrSearch, fmt.Errorf("delete responded %s", res.Status()))
	}
	return nil
}

// Prune removes documents past the retention window and returns how many were deleted
func (d *Detector) Prune(ctx context.Context) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"expires_at": map[string]any{"lte": d.cutoff()},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, errors.Join(ErrSearch, err)
	}

	res, err := d.client.DeleteByQuery([]string{d.cfg.Index}, bytes.NewReader(body),
		d.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return 0, errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, errors.Join(ErrSearch, fmt.Errorf("delete by query responded %s", res.Status()))
	}

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, errors.Join(ErrSearch, err)
	}
	return out.Deleted, nil
}

// IsRequestSuspicious delegates to the configured Policy
func (d *Detector) IsRequestSuspicious(r *http.Request) bool {
	return d.policy.IsRequestSuspicious(r)
}

// FindSimilarClients runs a weighted bool query, best score first
func (d *Detector) FindSimilarClients(ctx context.Context, r *http.Request, includeCurrent bool) ([]session.ClientIdentity, error) {
	current := d.payloads.FromRequest(r)

	exclude := ""
	if !includeCurrent && d.credentials != nil {
		exclude, _ = d.credentials.GetToken(r)
	}

	body, err := json.Marshal(d.buildQuery(current, exclude))
	if err != nil {
		return nil, errors.Join(ErrSearch, err)
	}

	res, err := d.client.Search(
		d.client.Search.WithIndex(d.cfg.Index),
		d.client.Search.WithBody(bytes.NewReader(body)),
		d.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Join(ErrSearch, fmt.Errorf("search responded %s", res.Status()))
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Join(ErrSearch, err)
	}

	clients := make([]session.ClientIdentity, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		attrs := map[string]string{}
		if hit.Source.Fingerprint != "" {
			attrs["fingerprint"] = hit.Source.Fingerprint
		}
		if hit.Source.AcceptLanguage != "" {
			attrs["accept_language"] = hit.Source.AcceptLanguage
		}
		if hit.Source.Platform != "" {
			attrs["platform"] = hit.Source.Platform
		}
		clients = append(clients, session.ClientIdentity{
			ID:         hit.ID,
			IPAddress:  hit.Source.IP,
			UserAgent:  hit.Source.UserAgent,
			Attributes: attrs,
			Score:      hit.Score,
		})
	}

	d.logger.DebugContext(ctx, "client similarity search",
		logger.Count(int64(len(clients))),
	)
	return clients, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// cutoff is the oldest expiry still considered; touched sessions outlive their indexed expiry.
func (d *Detector) cutoff() int64 {
	return d.now().Add(-d.cfg.Retention).Unix()
}

// buildQuery scores each matching attribute with its weight through constant_score
// clauses, so _score equals the weighted sum used by clientdetect.Scored.
func (d *Detector) buildQuery(p session.Payload, exclude string) map[string]any {
	w := d.weights
	var should []any
	add := func(field, value string, boost float64) {
		if value == "" || boost <= 0 {
			return
		}
		should = append(should, map[string]any{
			"constant_score": map[string]any{
				"filter": map[string]any{"term": map[string]any{field: value}},
				"boost":  boost,
			},
		})
	}

	add("ip", p.IP, w.IP)
	// exact UA plus same family adds up to the full UA weight
	add("user_agent", p.UserAgent, w.UserAgent*0.4)
	add("ua_family", uaFamily(p.UserAgent), w.UserAgent*0.6)
	add("accept_language", p.AcceptLanguage, w.AcceptLanguage)
	add("accept_encoding", p.AcceptEncoding, w.AcceptEncoding)
	add("platform", p.SecChUaPlatform, w.ClientHints)
	add("fingerprint", p.Fingerprint, w.Fingerprint)

	filter := []any{
		map[string]any{"range": map[string]any{"expires_at": map[string]any{"gt": d.cutoff()}}},
	}

	var mustNot []any
	if exclude != "" {
		mustNot = append(mustNot, map[string]any{"ids": map[string]any{"values": []string{exclude}}})
	}
	if d.cfg.AnonymousOnly {
		mustNot = append(mustNot, map[string]any{"exists": map[string]any{"field": "user_id"}})
	}

	boolQuery := map[string]any{
		"filter":               filter,
		"should":               should,
		"minimum_should_match": 1,
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	size := d.cfg.MaxCandidates
	if size <= 0 {
		size = 10
	}

	return map[string]any{
		"size":      size,
		"min_score": d.cfg.MinScore,
		"query":     map[string]any{"bool": boolQuery},
		"sort": []any{
			"_score",
			map[string]any{"created_at": "desc"},
		},
	}
}
