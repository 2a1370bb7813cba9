package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/clock/system"
	"github.com/JakeFAU/catalog-mirror/internal/config"
	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	"github.com/JakeFAU/catalog-mirror/internal/dispatcher"
	queueMemory "github.com/JakeFAU/catalog-mirror/internal/queue/memory"
	"github.com/JakeFAU/catalog-mirror/internal/storage/memory"
)

type testEnv struct {
	server *Server
	runs   *memory.RunStore
	queue  *queueMemory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) testEnv {
	t.Helper()
	runs := memory.NewRunStore()
	q := queueMemory.NewQueue(1)
	server := NewServer(runs, runs, dispatcher.New(q, nil), &fakeIDGen{ids: ids},
		system.NewFrozen(time.Unix(100, 0)), cfg, zap.NewNop())
	return testEnv{server: server, runs: runs, queue: q}
}

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{BaseURL: "http://books.toscrape.com/"},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 30},
	}
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitMirror_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "run-1")
	rec := serve(env.server, http.MethodPost, "/v1/mirrors",
		`{"base_url":"HTTP://Books.ToScrape.com","output_dir":"books"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"run_id":"run-1"}`, rec.Body.String())

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", item.RunID)
	require.Equal(t, crawler.RunRequest{BaseURL: "http://books.toscrape.com/", OutputPath: "books"}, item.Request)

	run, err := env.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, run.Status)
	require.True(t, time.Unix(100, 0).Equal(run.Submitted))
}

func TestServer_SubmitMirror_DefaultsBaseURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "run-default")
	rec := serve(env.server, http.MethodPost, "/v1/mirrors", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http://books.toscrape.com/", item.Request.BaseURL)
	require.Empty(t, item.Request.OutputPath)
}

func TestServer_SubmitMirror_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"relative url", `{"base_url":"catalogue/page-2.html"}`, "absolute URL"},
		{"ftp url", `{"base_url":"ftp://site/"}`, "http or https"},
		{"absolute output", `{"output_dir":"/etc"}`, "output_dir"},
		{"escaping output", `{"output_dir":"a/../../b"}`, "output_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, testConfig())
			rec := serve(env.server, http.MethodPost, "/v1/mirrors", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestServer_SubmitMirror_QueueFailureFailsRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "run-a", "run-b")
	env.queue.Close()

	rec := serve(env.server, http.MethodPost, "/v1/mirrors", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	run, err := env.runs.GetRun(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
	require.Contains(t, run.Result.Aborted, "queue closed")
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	require.NoError(t, env.runs.CreateRun(ctx, crawler.Run{ID: "run-done"}))
	require.NoError(t, env.runs.Finish(ctx, "run-done", crawler.Result{
		RunID:    "run-done",
		Counters: crawler.Counters{Books: 1000},
	}))

	rec := serve(env.server, http.MethodGet, "/v1/mirrors/run-done", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run crawler.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, crawler.RunStatusSucceeded, body.Run.Status)
	require.Equal(t, 1000, body.Run.Result.Counters.Books)

	rec = serve(env.server, http.MethodGet, "/v1/mirrors/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, env.runs.CreateRun(ctx, crawler.Run{
			ID:        fmt.Sprintf("run-%d", i),
			Submitted: time.Unix(int64(i), 0),
		}))
	}
	require.NoError(t, env.runs.Finish(ctx, "run-0", crawler.Result{Aborted: "home failed"}))

	rec := serve(env.server, http.MethodGet, "/v1/mirrors?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs  []crawler.Run `json:"runs"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 4, body.Total)
	require.Len(t, body.Runs, 2)
	require.Equal(t, "run-3", body.Runs[0].ID)

	rec = serve(env.server, http.MethodGet, "/v1/mirrors?status=failed", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, "run-0", body.Runs[0].ID)

	require.Equal(t, http.StatusBadRequest, serve(env.server, http.MethodGet, "/v1/mirrors?status=bogus", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(env.server, http.MethodGet, "/v1/mirrors?limit=0", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(env.server, http.MethodGet, "/v1/mirrors?offset=-1", "").Code)
}

func TestServer_GetManifest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	require.NoError(t, env.runs.CreateRun(ctx, crawler.Run{ID: "run-m"}))
	for _, e := range []crawler.ManifestEntry{
		{RunID: "run-m", URL: "http://site/", LocalPath: "index.html", Kind: crawler.KindHome},
		{RunID: "run-m", URL: "http://site/a.jpg", LocalPath: "a.jpg", Kind: crawler.KindResource},
		{RunID: "run-m", URL: "http://site/b.jpg", LocalPath: "b.jpg", Kind: crawler.KindResource},
	} {
		require.NoError(t, env.runs.RecordEntry(ctx, e))
	}

	rec := serve(env.server, http.MethodGet, "/v1/mirrors/run-m/manifest?kind=resource&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []crawler.ManifestEntry `json:"entries"`
		Total   int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Entries, 1)
	require.Equal(t, "b.jpg", body.Entries[0].LocalPath)

	require.Equal(t, http.StatusNotFound, serve(env.server, http.MethodGet, "/v1/mirrors/nope/manifest", "").Code)

	noManifest := NewServer(env.runs, nil, nil, &fakeIDGen{}, system.New(), testConfig(), nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(noManifest, http.MethodGet, "/v1/mirrors/run-m/manifest", "").Code)
}

func TestServer_ProbesAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := serve(env.server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(env.server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","workers":0,"pending":0}`, rec.Body.String())

	rec = serve(env.server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")

	notReady := NewServer(nil, nil, nil, &fakeIDGen{}, system.New(), testConfig(), nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(notReady, http.MethodGet, "/readyz", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(t, cfg)

	require.Equal(t, http.StatusForbidden, serve(env.server, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(env.server, http.MethodGet, "/healthz?api_key=secret", "").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

func TestPage(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3}
	require.Equal(t, []int{2, 3}, page(items, 5, 1))
	require.Equal(t, []int{1}, page(items, 1, 0))
	require.Empty(t, page(items, 1, 3))
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
