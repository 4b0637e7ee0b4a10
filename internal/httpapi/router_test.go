package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serenity/internal/adapters/storage/localfs"
	"serenity/internal/httpapi/handlers"
	"serenity/internal/models"
	apperrors "serenity/internal/pkg/errors"
	"serenity/internal/pkg/metrics"
	"serenity/internal/ports"
	"serenity/internal/renderer"
)

type upstreamCall struct {
	path  string
	token string
	body  map[string]any
}

type upstream struct {
	mu          sync.Mutex
	calls       []upstreamCall
	status      int
	contentType string
	body        []byte
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	u.mu.Lock()
	u.calls = append(u.calls, upstreamCall{path: r.URL.Path, token: r.URL.Query().Get("token"), body: body})
	status, ct, out := u.status, u.contentType, u.body
	u.mu.Unlock()

	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func (u *upstream) respond(status int, contentType string, body []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status, u.contentType, u.body = status, contentType, body
}

func (u *upstream) Calls() []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upstreamCall(nil), u.calls...)
}

type memCaptures struct {
	mu   sync.Mutex
	byID map[string]*models.Capture
}

func newMemCaptures() *memCaptures {
	return &memCaptures{byID: map[string]*models.Capture{}}
}

func (m *memCaptures) Create(_ context.Context, c *models.Capture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return apperrors.Conflict("capture already exists")
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCaptures) Get(_ context.Context, id string) (*models.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, apperrors.NotFound("capture", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCaptures) List(_ context.Context, status models.CaptureStatus, limit int) ([]models.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Capture{}
	for _, c := range m.byID {
		if status == "" || c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCaptures) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperrors.NotFound("capture", id)
	}
	delete(m.byID, id)
	return nil
}

func (m *memCaptures) put(c models.Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = &c
}

type memQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *memQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type testEnv struct {
	handler  http.Handler
	upstream *upstream
	captures *memCaptures
	queue    *memQueue
	storage  ports.StorageProvider
	metrics  *metrics.Recorder
}

type envOption func(*Deps)

func withoutCaptures() envOption {
	return func(d *Deps) {
		d.Handlers.Captures = nil
		d.Handlers.Queue = nil
		d.Handlers.Storage = nil
	}
}

func newTestEnv(t *testing.T, apiKey string, opts ...envOption) *testEnv {
	t.Helper()

	up := &upstream{status: http.StatusOK, contentType: "image/png", body: []byte("\x89PNG\r\n\x1a\nimage")}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	rec := metrics.New(nil)
	svc := renderer.NewService(renderer.NewHTTPClient(srv.URL, 5*time.Second), renderer.Options{
		APIKey:            apiKey,
		RetryDelay:        10 * time.Millisecond,
		MinWaitForTimeout: 1500,
		Metrics:           rec,
	})

	env := &testEnv{
		upstream: up,
		captures: newMemCaptures(),
		queue:    &memQueue{},
		storage:  localfs.New(t.TempDir()),
		metrics:  rec,
	}

	d := Deps{
		Handlers: handlers.Deps{
			Renderer: svc,
			Captures: env.captures,
			Queue:    env.queue,
			Storage:  env.storage,
			Checks: map[string]handlers.Check{
				"storage": env.storage.Check,
			},
			Service: "serenity",
			Version: "test",
		},
		Metrics: rec,
	}
	for _, o := range opts {
		o(&d)
	}
	env.handler = NewRouter(d)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, "key")

	for _, path := range []string{"/", "/render", "/anything/else", "/captures"} {
		rec := env.do(http.MethodOptions, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.Bytes(), path)
		assertCORS(t, rec)
	}
	assert.Empty(t, env.upstream.Calls())
}

func TestRenderValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		body   string
		status int
		msg    string
	}{
		{"missing url", "key", `{"type":"pdf"}`, 400, "URL is required"},
		{"empty url checked before key", "", `{"url":""}`, 400, "URL is required"},
		{"missing key", "", `{"url":"https://example.com","type":"bogus"}`, 500, "Browserless API key not configured"},
		{"invalid type", "key", `{"url":"https://example.com","type":"bogus"}`, 400, "Invalid type. Supported: screenshot, pdf, content, scrape"},
		{"empty type", "key", `{"url":"https://example.com","type":""}`, 400, "Invalid type. Supported: screenshot, pdf, content, scrape"},
		{"null type", "key", `{"url":"https://example.com","type":null}`, 400, "Invalid type. Supported: screenshot, pdf, content, scrape"},
		{"numeric type", "key", `{"url":"https://example.com","type":5}`, 400, "Invalid type. Supported: screenshot, pdf, content, scrape"},
		{"numeric type without key", "", `{"url":"https://example.com","type":5}`, 500, "Browserless API key not configured"},
		{"bad screenshot option", "key", `{"url":"https://example.com","options":{"screenshot":{"type":"gif"}}}`, 400, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.apiKey)
			rec := env.do(http.MethodPost, "/", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assertCORS(t, rec)
			body := decodeBody(t, rec)
			if tt.msg != "" {
				assert.Equal(t, map[string]any{"error": tt.msg}, body)
			} else {
				assert.NotEmpty(t, body["error"])
			}
			assert.Empty(t, env.upstream.Calls(), "no provider call on rejected requests")
		})
	}
}

func TestRenderMalformedJSON(t *testing.T) {
	env := newTestEnv(t, "key")
	rec := env.do(http.MethodPost, "/", `{"url":`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assertCORS(t, rec)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.Empty(t, env.upstream.Calls())
}

func TestRenderScreenshotDefault(t *testing.T) {
	env := newTestEnv(t, "secret")
	rec := env.do(http.MethodPost, "/", `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG\r\n\x1a\nimage", rec.Body.String())

	calls := env.upstream.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/screenshot", calls[0].path)
	assert.Equal(t, "secret", calls[0].token)
	assert.Equal(t, "https://example.com", calls[0].body["url"])
}

func TestRenderAnyPath(t *testing.T) {
	env := newTestEnv(t, "key")
	env.upstream.respond(http.StatusOK, "text/html; charset=utf-8", []byte("<html>hi</html>"))

	for _, path := range []string{"/render", "/functions/v1/browserless"} {
		rec := env.do(http.MethodPost, path, `{"url":"https://example.com","type":"content"}`)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, renderer.ContentTypeHTML, rec.Header().Get("Content-Type"))
		assert.Equal(t, "<html>hi</html>", rec.Body.String())
	}

	for _, c := range env.upstream.Calls() {
		assert.Equal(t, "/content", c.path)
	}
}

func TestRenderScrapeReturnsProviderJSON(t *testing.T) {
	env := newTestEnv(t, "key")
	env.upstream.respond(http.StatusOK, "application/json", []byte(`{"data":[{"selector":"h1","results":[]}]}`))

	rec := env.do(http.MethodPost, "/", `{"url":"https://example.com","type":"scrape"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":[{"selector":"h1","results":[]}]}`, rec.Body.String())

	calls := env.upstream.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/scrape", calls[0].path)
	assert.Equal(t, []any{
		map[string]any{"selector": "h1"},
		map[string]any{"selector": "p"},
		map[string]any{"selector": "a"},
	}, calls[0].body["elements"])
}

func TestRenderUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "key")
	env.upstream.respond(http.StatusBadGateway, "text/plain", []byte("browser crashed"))

	rec := env.do(http.MethodPost, "/", `{"url":"https://example.com","type":"pdf"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, map[string]any{
		"error":   "Browserless API request failed",
		"status":  float64(502),
		"details": "browser crashed",
	}, decodeBody(t, rec))
}

func TestRenderUpstreamFailureWithEmptyBody(t *testing.T) {
	env := newTestEnv(t, "key")
	env.upstream.respond(http.StatusBadGateway, "", nil)

	rec := env.do(http.MethodPost, "/", `{"url":"https://example.com","type":"scrape"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, map[string]any{
		"error":   "Browserless API request failed",
		"status":  float64(502),
		"details": "",
	}, decodeBody(t, rec))
}

func TestCreateCaptureRejectsNullType(t *testing.T) {
	env := newTestEnv(t, "key")

	rec := env.do(http.MethodPost, "/captures", `{"url":"https://example.com","type":null}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type. Supported: screenshot, pdf, content, scrape", decodeBody(t, rec)["error"])
	assert.Empty(t, env.queue.ids)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "key")

	rec := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "serenity", body["service"])
	assert.NotContains(t, body, "checks")

	rec = env.do(http.MethodGet, "/health?deep=true", "")
	body = decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	storage, ok := checks["storage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", storage["status"])
	assert.Contains(t, storage, "latency_ms")
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, "key", func(d *Deps) {
		d.Handlers.Checks = map[string]handlers.Check{
			"redis": func(context.Context) error { return io.ErrUnexpectedEOF },
		}
	})

	body := decodeBody(t, env.do(http.MethodGet, "/health?deep=true", ""))
	assert.Equal(t, "degraded", body["status"])
	redis := body["checks"].(map[string]any)["redis"].(map[string]any)
	assert.Equal(t, "error", redis["status"])
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), redis["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "key")
	env.do(http.MethodPost, "/", `{"url":"https://example.com"}`)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "serenity_renders_total")
	assert.Contains(t, rec.Body.String(), "serenity_http_requests_total")
}

func TestCaptureLifecycle(t *testing.T) {
	env := newTestEnv(t, "key")

	rec := env.do(http.MethodPost, "/captures", `{"url":"https://example.com","type":"pdf","options":{"pdf":{"format":"A4"}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assertCORS(t, rec)

	created := decodeBody(t, rec)["capture"].(map[string]any)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(id, "cap_"))
	assert.Equal(t, "QUEUED", created["status"])
	assert.Equal(t, "pdf", created["type"])
	assert.Equal(t, []string{id}, env.queue.ids)
	assert.Empty(t, env.upstream.Calls(), "captures render in the worker")

	rec = env.do(http.MethodGet, "/captures/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["capture"].(map[string]any)["id"])

	rec = env.do(http.MethodGet, "/captures/"+id+"/content", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capture is not ready", decodeBody(t, rec)["error"])

	payload := []byte("%PDF-1.7 test")
	out, err := env.storage.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey:   "captures/" + id + "/capture.pdf",
		ContentType: "application/pdf",
		Reader:      bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)

	c, err := env.captures.Get(context.Background(), id)
	require.NoError(t, err)
	c.Status = models.CaptureDone
	c.ObjectKey = out.ObjectKey
	c.ContentType = "application/pdf"
	c.SizeBytes = out.Size
	env.captures.put(*c)

	rec = env.do(http.MethodGet, "/captures/"+id+"/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, payload, rec.Body.Bytes())

	rec = env.do(http.MethodDelete, "/captures/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/captures/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "capture not found"}, decodeBody(t, rec))

	_, _, _, err = env.storage.GetObject(context.Background(), out.ObjectKey)
	assert.True(t, apperrors.IsNotFound(err), "artifact must be removed, got %v", err)
}

func TestCreateCaptureValidatesLikeRender(t *testing.T) {
	env := newTestEnv(t, "key")

	rec := env.do(http.MethodPost, "/captures", `{"url":"https://example.com","type":"video"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type. Supported: screenshot, pdf, content, scrape", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, "/captures", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL is required", decodeBody(t, rec)["error"])

	assert.Empty(t, env.queue.ids)
	captures, _ := env.captures.List(context.Background(), "", 10)
	assert.Empty(t, captures)
}

func TestCreateCaptureQueueFailure(t *testing.T) {
	env := newTestEnv(t, "key")
	env.queue.err = io.ErrClosedPipe

	rec := env.do(http.MethodPost, "/captures", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	captures, _ := env.captures.List(context.Background(), "", 10)
	assert.Empty(t, captures, "unqueued capture must not linger")
}

func TestListCaptures(t *testing.T) {
	env := newTestEnv(t, "key")
	env.captures.put(models.Capture{ID: "cap_a", URL: "https://a", Type: "pdf", Status: models.CaptureDone})
	env.captures.put(models.Capture{ID: "cap_b", URL: "https://b", Type: "pdf", Status: models.CaptureQueued})
	env.captures.put(models.Capture{ID: "cap_c", URL: "https://c", Type: "pdf", Status: models.CaptureDone})

	body := decodeBody(t, env.do(http.MethodGet, "/captures?status=done", ""))
	assert.Equal(t, float64(2), body["count"])

	body = decodeBody(t, env.do(http.MethodGet, "/captures?limit=1", ""))
	assert.Equal(t, float64(1), body["count"])

	body = decodeBody(t, env.do(http.MethodGet, "/captures?limit=9999", ""))
	assert.Equal(t, float64(3), body["count"], "out-of-range limit falls back to the default")

	rec := env.do(http.MethodGet, "/captures?status=LOST", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRunningCapture(t *testing.T) {
	env := newTestEnv(t, "key")
	env.captures.put(models.Capture{ID: "cap_run", URL: "https://a", Type: "pdf", Status: models.CaptureRunning})

	rec := env.do(http.MethodDelete, "/captures/cap_run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	_, err := env.captures.Get(context.Background(), "cap_run")
	assert.NoError(t, err)
}

func TestCapturesDisabledFallsThroughToRender(t *testing.T) {
	env := newTestEnv(t, "key", withoutCaptures())

	rec := env.do(http.MethodPost, "/captures", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL is required", decodeBody(t, rec)["error"])

	// Only POST is routed on the catch-all.
	rec = env.do(http.MethodGet, "/captures", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assertCORS(t, rec)
}
