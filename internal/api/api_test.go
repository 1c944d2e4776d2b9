package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tracelight/tracelight/internal/registry"
	"github.com/tracelight/tracelight/internal/shard"
	"github.com/tracelight/tracelight/internal/stream"
)

const (
	aliceToken = "tl_alice"
	bobToken   = "tl_bob"

	typeErrorPayload = `{"exception":{"values":[{"type":"TypeError","value":"Cannot read property 'foo' of undefined","stacktrace":{"frames":[{"filename":"app.js","function":"handleClick","lineno":42,"in_app":true}]}}]}}`
)

type harness struct {
	t   *testing.T
	srv *httptest.Server
	hub *stream.Hub
}

func newHarness(t *testing.T, mods ...func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.Open("sqlite3", filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	pool, err := shard.NewPool(filepath.Join(dir, "shards"), 8)
	require.NoError(t, err)
	hub := stream.NewHub()

	opts := Options{
		Registry: reg,
		Shards:   pool,
		Hub:      hub,
		Auth: registry.NewTokenAuth(map[string]string{
			aliceToken: "alice",
			bobToken:   "bob",
		}),
		PublicURL:    "http://errors.test",
		MaxBodyBytes: 1 << 20,
	}
	for _, mod := range mods {
		mod(&opts)
	}

	srv := httptest.NewServer(NewRouter(opts))
	t.Cleanup(func() {
		srv.Close()
		pool.Close()
		reg.Close()
	})
	return &harness{t: t, srv: srv, hub: hub}
}

// do issues a management request with a bearer token.
func (h *harness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *harness) createProject(name string) projectView {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/projects", aliceToken, map[string]string{"name": name})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	return decodeBody[projectView](h.t, resp)
}

// envelopeFor wraps event payload lines in a minimal envelope.
func envelopeFor(payloads ...string) []byte {
	lines := []string{"{}"}
	for _, p := range payloads {
		lines = append(lines, `{"type":"event"}`, p)
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// postEnvelope sends an envelope authenticated via X-Sentry-Auth and
// returns the status code plus decoded response body.
func (h *harness) postEnvelope(projectID, key string, body []byte) (int, map[string]any) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/"+projectID+"/envelope", bytes.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("X-Sentry-Auth", "Sentry sentry_version=7, sentry_client=test/1.0, sentry_key="+key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	return resp.StatusCode, decodeBody[map[string]any](h.t, resp)
}

func (h *harness) issues(slug, query string) shard.IssuePage {
	h.t.Helper()
	resp := h.do(http.MethodGet, "/api/projects/"+slug+"/issues"+query, aliceToken, nil)
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	return decodeBody[shard.IssuePage](h.t, resp)
}

func (h *harness) issueDetail(slug, id string) shard.IssueDetail {
	h.t.Helper()
	resp := h.do(http.MethodGet, "/api/projects/"+slug+"/issues/"+id, aliceToken, nil)
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	return decodeBody[shard.IssueDetail](h.t, resp)
}

func errKind(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeBody[errorBody](t, resp).Error
}

func TestIngestCreatesIssue(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Frontend")

	status, body := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)
	require.Regexp(t, `^[0-9a-f]{32}$`, body["id"])

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	issue := page.Issues[0]
	require.Equal(t, "TypeError: Cannot read property 'foo' of undefined", issue.Title)
	require.EqualValues(t, 1, issue.Count)
	require.Equal(t, "unresolved", issue.Status)
	require.Equal(t, "error", issue.Level)
	require.False(t, page.HasMore)
}

func TestIdenticalEnvelopesDedupIntoOneIssue(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Frontend")

	for i := 0; i < 3; i++ {
		status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
		require.Equal(t, http.StatusOK, status)
	}

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 3, page.Issues[0].Count)

	detail := h.issueDetail(p.Slug, page.Issues[0].ID)
	require.Len(t, detail.Stats, 1)
	require.EqualValues(t, 3, detail.Stats[0].Count)

	resp := h.do(http.MethodGet, "/api/projects/"+p.Slug+"/issues/"+detail.ID+"/events", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decodeBody[shard.EventPage](t, resp)
	require.Len(t, events.Events, 3)
}

func TestNormalizationCollapsesVariableIDs(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	payload := func(reqID string) string {
		return fmt.Sprintf(`{"exception":{"values":[{"type":"HTTPError","value":"Request %s failed","stacktrace":{"frames":[{"filename":"client.go","function":"fetch","lineno":10,"in_app":true}]}}]}}`, reqID)
	}
	for _, id := range []string{"abc12345-1234-1234-1234-1234567890ab", "def67890-4321-4321-4321-0987654321fe"} {
		status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(payload(id)))
		require.Equal(t, http.StatusOK, status)
	}

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 2, page.Issues[0].Count)
}

func TestUniqueUserCounting(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	for _, user := range []string{"u1", "u1", "u2"} {
		payload := fmt.Sprintf(`{"user":{"id":%q},%s`, user, typeErrorPayload[1:])
		status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(payload))
		require.Equal(t, http.StatusOK, status)
	}

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 3, page.Issues[0].Count)
	require.EqualValues(t, 2, page.Issues[0].UserCount)
}

func TestStatusTransitionSurvivesIngest(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Frontend")

	status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)
	issueID := h.issues(p.Slug, "").Issues[0].ID

	resp := h.do(http.MethodPatch, "/api/projects/"+p.Slug+"/issues/"+issueID, aliceToken,
		map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "resolved", decodeBody[shard.Issue](t, resp).Status)

	// A new event bumps counters but never reopens the issue.
	status, _ = h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)

	detail := h.issueDetail(p.Slug, issueID)
	require.Equal(t, "resolved", detail.Status)
	require.EqualValues(t, 2, detail.Count)
}

func TestIssuePagination(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	for _, typ := range []string{"TypeError", "ValueError", "RangeError"} {
		payload := fmt.Sprintf(`{"exception":{"values":[{"type":%q,"value":"boom","stacktrace":{"frames":[{"filename":"app.go","function":"run","lineno":1,"in_app":true}]}}]}}`, typ)
		status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(payload))
		require.Equal(t, http.StatusOK, status)
		// last_seen is the sort key; keep the three apart.
		time.Sleep(5 * time.Millisecond)
	}

	first := h.issues(p.Slug, "?limit=2")
	require.Len(t, first.Issues, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)
	require.Equal(t, "RangeError: boom", first.Issues[0].Title)
	require.Equal(t, "ValueError: boom", first.Issues[1].Title)

	second := h.issues(p.Slug, "?limit=2&cursor="+first.NextCursor)
	require.Len(t, second.Issues, 1)
	require.False(t, second.HasMore)
	require.Equal(t, "TypeError: boom", second.Issues[0].Title)
}

func TestDuplicateEventIDIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	payload := `{"event_id":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",` + typeErrorPayload[1:]
	for i := 0; i < 2; i++ {
		status, body := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(payload))
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", body["id"])
	}

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 1, page.Issues[0].Count)
}

func TestIngestAuthSources(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")
	body := envelopeFor(typeErrorPayload)
	url := h.srv.URL + "/api/" + p.ID + "/envelope"

	// Query parameter.
	resp, err := http.Post(url+"?sentry_key="+p.PublicKey, "application/x-sentry-envelope", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Basic auth, key as username.
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth(p.PublicKey, "")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// X-Sentry-Auth covered by postEnvelope.
	status, _ := h.postEnvelope(p.ID, p.PublicKey, body)
	require.Equal(t, http.StatusOK, status)

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 3, page.Issues[0].Count)
}

func TestIngestAuthFailures(t *testing.T) {
	h := newHarness(t)
	a := h.createProject("A")
	b := h.createProject("B")
	body := envelopeFor(typeErrorPayload)

	resp, err := http.Post(h.srv.URL+"/api/"+a.ID+"/envelope", "application/x-sentry-envelope", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errMissingAuth, errKind(t, resp))

	status, _ := h.postEnvelope(a.ID, "ffffffffffffffffffffffffffffffff", body)
	require.Equal(t, http.StatusUnauthorized, status)

	// B's key on A's ingest path.
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/"+a.ID+"/envelope", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Sentry-Auth", "Sentry sentry_version=7, sentry_key="+b.PublicKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errProjectMismatch, errKind(t, resp))
}

func TestLegacyStoreEndpoint(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Legacy")

	resp, err := http.Post(
		h.srv.URL+"/api/"+p.ID+"/store/?sentry_key="+p.PublicKey,
		"application/json",
		strings.NewReader(typeErrorPayload))
	require.NoError(t, err)
	body := decodeBody[map[string]any](t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Regexp(t, `^[0-9a-f]{32}$`, body["id"])

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.Equal(t, "TypeError: Cannot read property 'foo' of undefined", page.Issues[0].Title)
}

func TestGzipEnvelope(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(envelopeFor(typeErrorPayload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/"+p.ID+"/envelope", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Sentry-Auth", "Sentry sentry_version=7, sentry_key="+p.PublicKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, h.issues(p.Slug, "").Issues, 1)
}

func TestOversizeBodiesAreRejected(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxBodyBytes = 512 })
	p := h.createProject("Tiny")

	big := fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", 2048))
	status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(big))
	require.Equal(t, http.StatusRequestEntityTooLarge, status)

	// Small on the wire, too large decompressed.
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(envelopeFor(fmt.Sprintf(`{"message":%q}`, strings.Repeat("y", 4096))))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, buf.Len(), 512)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/"+p.ID+"/envelope", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Sentry-Auth", "Sentry sentry_version=7, sentry_key="+p.PublicKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, errDecompression, errKind(t, resp))

	require.Empty(t, h.issues(p.Slug, "").Issues)
}

func TestEnvelopeLeniency(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	// Unknown item type, blank separator lines, and a truncated trailing
	// item must not cost the event item.
	body := strings.Join([]string{
		`{"sdk":{"name":"test"}}`,
		`{"type":"session"}`,
		`{"started":"2025-01-01T00:00:00Z"}`,
		``,
		`{"type":"event"}`,
		typeErrorPayload,
		``,
		`{"type":"event"}`,
	}, "\n")

	status, resp := h.postEnvelope(p.ID, p.PublicKey, []byte(body))
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp["id"])

	page := h.issues(p.Slug, "")
	require.Len(t, page.Issues, 1)
	require.EqualValues(t, 1, page.Issues[0].Count)
}

func TestManagementAuth(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/api/projects", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errMissingAuth, errKind(t, resp))

	resp = h.do(http.MethodGet, "/api/projects", "tl_wrong", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errInvalidAuth, errKind(t, resp))
}

func TestProjectLifecycle(t *testing.T) {
	h := newHarness(t)

	created := h.createProject("Checkout API")
	require.Equal(t, "checkout-api", created.Slug)
	require.Equal(t,
		fmt.Sprintf("http://%s@errors.test/%s", created.PublicKey, created.ID),
		created.DSN)

	resp := h.do(http.MethodGet, "/api/projects", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Projects []projectView `json:"projects"`
	}](t, resp)
	require.Len(t, list.Projects, 1)

	resp = h.do(http.MethodGet, "/api/projects/checkout-api", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[projectView](t, resp)
	require.Equal(t, created.ID, got.ID)

	// Some events exist, then the project goes away along with its shard.
	status, _ := h.postEnvelope(created.ID, created.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)

	resp = h.do(http.MethodDelete, "/api/projects/checkout-api", aliceToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(http.MethodGet, "/api/projects/checkout-api", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errProjectNotFound, errKind(t, resp))

	// The key died with the project.
	status, _ = h.postEnvelope(created.ID, created.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestProjectCreateValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/api/projects", aliceToken, map[string]string{"name": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errMissingFields, errKind(t, resp))

	resp = h.do(http.MethodPost, "/api/projects", aliceToken, map[string]string{"name": "x", "nope": "y"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSlugAccessFailureIsNotFound(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Private")

	for _, path := range []string{
		"/api/projects/" + p.Slug,
		"/api/projects/" + p.Slug + "/issues",
		"/api/projects/" + p.Slug + "/stats",
		"/api/projects/" + p.Slug + "/events/latest",
	} {
		resp := h.do(http.MethodGet, path, bobToken, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		require.Equal(t, errProjectNotFound, errKind(t, resp), path)
	}
}

func TestIssueQuerySurface(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")

	status, body := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)
	eventID := body["id"].(string)
	issueID := h.issues(p.Slug, "").Issues[0].ID

	// Issue detail carries the hourly series.
	detail := h.issueDetail(p.Slug, issueID)
	require.Equal(t, issueID, detail.ID)
	require.NotEmpty(t, detail.Stats)

	// Single event, raw payload preserved.
	resp := h.do(http.MethodGet, "/api/projects/"+p.Slug+"/events/"+eventID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[shard.EventRecord](t, resp)
	require.Equal(t, issueID, rec.IssueID)
	require.Contains(t, string(rec.Data), "Cannot read property")

	// Latest events.
	resp = h.do(http.MethodGet, "/api/projects/"+p.Slug+"/events/latest", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decodeBody[struct {
		Events []shard.EventRecord `json:"events"`
	}](t, resp)
	require.Len(t, latest.Events, 1)

	// Project stats.
	resp = h.do(http.MethodGet, "/api/projects/"+p.Slug+"/stats?interval=1d", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[shard.StatsResult](t, resp)
	require.EqualValues(t, 1, stats.Total)

	// Unknown ids are typed 404s.
	resp = h.do(http.MethodGet, "/api/projects/"+p.Slug+"/issues/beef1234", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errIssueNotFound, errKind(t, resp))
	resp = h.do(http.MethodGet, "/api/projects/"+p.Slug+"/events/ffffffffffffffffffffffffffffffff", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errEventNotFound, errKind(t, resp))
}

func TestIssueUpdateValidation(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")
	status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)
	issueID := h.issues(p.Slug, "").Issues[0].ID

	resp := h.do(http.MethodPatch, "/api/projects/"+p.Slug+"/issues/"+issueID, aliceToken,
		map[string]string{"status": "on-fire"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPatch, "/api/projects/"+p.Slug+"/issues/"+issueID, aliceToken,
		map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errNoUpdates, errKind(t, resp))
}

func TestIssueDelete(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Backend")
	status, _ := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)
	issueID := h.issues(p.Slug, "").Issues[0].ID

	resp := h.do(http.MethodDelete, "/api/projects/"+p.Slug+"/issues/"+issueID, aliceToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(http.MethodGet, "/api/projects/"+p.Slug+"/issues/"+issueID, aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errIssueNotFound, errKind(t, resp))
	require.Empty(t, h.issues(p.Slug, "").Issues)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, resp))

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(metrics), "tracelight_http_requests_total")
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Live")

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") +
		"/api/projects/" + p.Slug + "/events/stream?token=" + aliceToken
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The handler subscribes just after the handshake; wait for it.
	require.Eventually(t, func() bool { return h.hub.Subscribers(p.ID) == 1 },
		2*time.Second, 10*time.Millisecond)

	status, body := h.postEnvelope(p.ID, p.PublicKey, envelopeFor(typeErrorPayload))
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var notice stream.Notice
	require.NoError(t, conn.ReadJSON(&notice))
	require.Equal(t, body["id"], notice.EventID)
	require.NotEmpty(t, notice.IssueID)
	require.Equal(t, "TypeError: Cannot read property 'foo' of undefined", notice.Title)
	require.Equal(t, "error", notice.Level)
}

func TestEventStreamAuth(t *testing.T) {
	h := newHarness(t)
	p := h.createProject("Live")

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/projects/" + p.Slug + "/events/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
