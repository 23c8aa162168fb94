package osdetect_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/clientdetect/osdetect"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

type fakeCluster struct {
	mu       sync.Mutex
	requests map[string][]byte
	search   string
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.requests[r.Method+" "+r.URL.Path] = body
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/":
		_, _ = io.WriteString(w, `{"version":{"distribution":"opensearch","number":"2.15.0"}}`)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = io.WriteString(w, c.search)
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		_, _ = io.WriteString(w, `{"deleted":3}`)
	case strings.Contains(r.URL.Path, "/_update/"):
		if strings.HasSuffix(r.URL.Path, "/never-indexed") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"document_missing_exception"},"status":404}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":"updated"}`)
	case strings.Contains(r.URL.Path, "/_doc/"):
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (c *fakeCluster) body(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[key]
}

func newDetector(t *testing.T, cluster *fakeCluster, cfg osdetect.Config, opts ...osdetect.Option) *osdetect.Detector {
	t.Helper()

	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}, DisableRetry: true})
	require.NoError(t, err)

	opts = append([]osdetect.Option{osdetect.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) })}, opts...)
	return osdetect.New(client, cfg, opts...)
}

func TestDetector_FindSimilarClients(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{
		requests: map[string][]byte{},
		search: `{"hits":{"hits":[
			{"_id":"best","_score":1.0,"_source":{"ip":"198.51.100.1","user_agent":"` + chromeUA + `","fingerprint":"abc"}},
			{"_id":"good","_score":0.8,"_source":{"ip":"198.51.100.1","accept_language":"en-US"}}
		]}}`,
	}
	cfg := osdetect.DefaultConfig()
	cfg.AnonymousOnly = true
	d := newDetector(t, cluster, cfg, osdetect.WithCredentials(session.DefaultCredentials(session.DefaultConfig())))

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.1:40000"
	r.Header.Set("User-Agent", chromeUA)
	r.Header.Set("Authorization", "Bearer stale-id")

	clients, err := d.FindSimilarClients(context.Background(), r, false)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "best", clients[0].ID)
	assert.Equal(t, "198.51.100.1", clients[0].IPAddress)
	assert.Equal(t, "abc", clients[0].Attributes["fingerprint"])
	assert.InDelta(t, 0.8, clients[1].Score, 1e-9)

	var query map[string]any
	require.NoError(t, json.Unmarshal(cluster.body("POST /session-clients/_search"), &query))
	assert.InDelta(t, 0.7, query["min_score"], 1e-9)
	assert.EqualValues(t, 5, query["size"])

	raw := string(cluster.body("POST /session-clients/_search"))
	assert.Contains(t, raw, `"stale-id"`, "own credential must be excluded")
	assert.Contains(t, raw, `"user_id"`, "anonymous-only filter")
	assert.Contains(t, raw, `"198.51.100.1"`)
	assert.Contains(t, raw, `"expires_at":{"gt":1699913600}`)
}

func TestDetector_RecordForgetPrune(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{requests: map[string][]byte{}}
	d := newDetector(t, cluster, osdetect.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, d.Setup(ctx))
	assert.NotEmpty(t, cluster.body("PUT /session-clients"))

	sess := &session.Session{ID: "abc", ExpiresAt: 1_700_003_600, CreatedAt: 1_700_000_000}
	require.NoError(t, d.RecordClient(ctx, sess, session.Payload{IP: "198.51.100.1", UserAgent: chromeUA}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(cluster.body("PUT /session-clients/_doc/abc"), &doc))
	assert.Equal(t, "198.51.100.1", doc["ip"])
	assert.Equal(t, "chrome|windows|desktop", doc["ua_family"])
	assert.NotContains(t, doc, "user_id")

	require.NoError(t, d.Forget(ctx, "abc"))

	n, err := d.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDetector_SearchFailure(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{requests: map[string][]byte{}, search: `not json`}
	d := newDetector(t, cluster, osdetect.DefaultConfig())

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", chromeUA)
	_, err := d.FindSimilarClients(context.Background(), r, true)
	assert.ErrorIs(t, err, osdetect.ErrSearch)
}

func TestDetector_UpdateClientAfterLogin(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{requests: map[string][]byte{}}
	d := newDetector(t, cluster, osdetect.DefaultConfig())
	ctx := context.Background()
	uid := int64(42)

	sess := &session.Session{ID: "abc", ExpiresAt: 1_700_003_600, CreatedAt: 1_700_000_000}
	require.NoError(t, d.RecordClient(ctx, sess, session.Payload{IP: "198.51.100.1", UserAgent: chromeUA}))

	sess.UserID = &uid
	sess.ExpiresAt = 1_700_007_200
	require.NoError(t, d.UpdateClient(ctx, sess))

	var update struct {
		Doc map[string]any `json:"doc"`
	}
	require.NoError(t, json.Unmarshal(cluster.body("POST /session-clients/_update/abc"), &update))
	assert.EqualValues(t, 42, update.Doc["user_id"], "anonymous-only searches must now skip this session")
	assert.EqualValues(t, 1_700_007_200, update.Doc["expires_at"])

	assert.NoError(t, d.UpdateClient(ctx, &session.Session{ID: "never-indexed", UserID: &uid}))
}

func TestDetector_AssignUserUpdatesIndex(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{requests: map[string][]byte{}}
	d := newDetector(t, cluster, osdetect.DefaultConfig())
	ctx := context.Background()

	svc := session.NewService(session.NewMemoryStore(), session.DefaultConfig(), session.WithClientUpdater(d))
	created, err := svc.Create(ctx, "{}")
	require.NoError(t, err)

	_, err = svc.AssignUser(ctx, created, 7)
	require.NoError(t, err)

	raw := cluster.body("POST /session-clients/_update/" + created.ID)
	require.NotEmpty(t, raw)
	assert.Contains(t, string(raw), `"user_id":7`)
}
