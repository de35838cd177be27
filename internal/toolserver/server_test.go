package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"snipbridge/internal/httpx"
	"snipbridge/internal/objectstore"
	"snipbridge/internal/snippet"
	"snipbridge/internal/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingObjects struct {
	*objectstore.Memory
}

func (failingObjects) Get(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("storage account unreachable: 10.1.2.3")
}

func (failingObjects) Put(context.Context, string, string, []byte) error {
	return errors.New("storage account unreachable: 10.1.2.3")
}

type testServer struct {
	server   *Server
	objects  objectstore.Store
	registry *prometheus.Registry
	logs     *bytes.Buffer
}

func newTestServer(t *testing.T, objects objectstore.Store, cfg Config) *testServer {
	t.Helper()

	store, err := snippet.NewStore(objects, "")
	if err != nil {
		t.Fatalf("snippet.NewStore() error = %v", err)
	}
	logs := &bytes.Buffer{}
	cfg.Logger = slog.New(slog.NewTextHandler(logs, nil))
	cfg.Registry = prometheus.NewRegistry()

	return &testServer{
		server:   New(tools.NewSnippetRegistry(store), cfg),
		objects:  objects,
		registry: cfg.Registry,
		logs:     logs,
	}
}

func (ts *testServer) post(t *testing.T, path, body string) (int, string) {
	t.Helper()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ts.server.Handler().ServeHTTP(recorder, req)

	var payload contentResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response %q is not a content payload: %v", recorder.Body.String(), err)
	}
	return recorder.Code, payload.Content
}

func assertResponse(t *testing.T, gotCode int, gotContent string, wantCode int, wantContent string) {
	t.Helper()
	if gotCode != wantCode || gotContent != wantContent {
		t.Fatalf("response = %d %q, want %d %q", gotCode, gotContent, wantCode, wantContent)
	}
}

func TestHelloReturnsGreeting(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})
	code, content := ts.post(t, "/api/hello_mcp", "")
	assertResponse(t, code, content, http.StatusOK, "Hello I am MCPTool!")
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})

	code, content := ts.post(t, "/api/save_snippet", `{"arguments":{"snippetname":"snippet1","snippet":"print('Hello, World!')"}}`)
	assertResponse(t, code, content, http.StatusOK, "Snippet 'print('Hello, World!')' saved successfully")

	code, content = ts.post(t, "/api/get_snippet", `{"arguments":{"snippetname":"snippet1"}}`)
	assertResponse(t, code, content, http.StatusOK, "print('Hello, World!')")

	code, content = ts.post(t, "/api/get_snippet", `{"arguments":{"snippetname":"nope"}}`)
	assertResponse(t, code, content, http.StatusOK, "Snippet not found")
}

func TestSaveThenGetRoundTripsAnyName(t *testing.T) {
	t.Parallel()

	fs, err := objectstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	backends := map[string]objectstore.Store{"memory": objectstore.NewMemory(), "fs": fs}
	names := []string{"python/hello", " snippet1", "snippet1 ", "..", "../up", `dir\name`}

	for backend, objects := range backends {
		ts := newTestServer(t, objects, Config{})
		for _, name := range names {
			body, _ := json.Marshal(map[string]any{"arguments": map[string]string{"snippetname": name, "snippet": "code for " + name}})
			code, content := ts.post(t, "/api/save_snippet", string(body))
			if code != http.StatusOK {
				t.Fatalf("%s: save %q = %d %q, want 200", backend, name, code, content)
			}

			body, _ = json.Marshal(map[string]any{"arguments": map[string]string{"snippetname": name}})
			code, content = ts.post(t, "/api/get_snippet", string(body))
			assertResponse(t, code, content, http.StatusOK, "code for "+name)
		}
	}
}

func TestGetSnippetClientErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})
	for _, body := range []string{
		`{}`,
		`{"arguments":{}}`,
		`{"arguments":{"snippetname":""}}`,
		`{"arguments":"snippet1"}`,
	} {
		code, content := ts.post(t, "/api/get_snippet", body)
		assertResponse(t, code, content, http.StatusBadRequest, "No snippet name provided")
	}
}

func TestSaveSnippetClientErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})
	cases := []struct {
		body string
		want string
	}{
		{body: `{}`, want: "No arguments provided"},
		{body: `{"arguments":{}}`, want: "Missing required arguments"},
		{body: `{"arguments":{"snippet":"x"}}`, want: "No snippet name provided"},
		{body: `{"arguments":{"snippetname":"a"}}`, want: "No snippet content provided"},
		{body: `{"arguments":{"snippetname":"","snippet":"x"}}`, want: "No snippet name provided"},
		{body: `{"arguments":{"snippetname":"a","snippet":""}}`, want: "No snippet content provided"},
	}
	for _, tc := range cases {
		code, content := ts.post(t, "/api/save_snippet", tc.body)
		assertResponse(t, code, content, http.StatusBadRequest, tc.want)
	}

	exists, err := ts.objects.Exists(context.Background(), snippet.DefaultContainer, "a.json")
	if err != nil || exists {
		t.Fatalf("rejected saves must not touch the store: exists=%v err=%v", exists, err)
	}
}

func TestMalformedBodyIsServerError(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})

	code, content := ts.post(t, "/api/get_snippet", `{"arguments":`)
	assertResponse(t, code, content, http.StatusInternalServerError, "Error retrieving snippet")

	code, content = ts.post(t, "/api/save_snippet", `not json`)
	assertResponse(t, code, content, http.StatusInternalServerError, "Error saving snippet")
}

func TestBackendFailureDoesNotLeakDetail(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, failingObjects{Memory: objectstore.NewMemory()}, Config{})

	code, content := ts.post(t, "/api/get_snippet", `{"arguments":{"snippetname":"a"}}`)
	assertResponse(t, code, content, http.StatusInternalServerError, "Error retrieving snippet")

	code, content = ts.post(t, "/api/save_snippet", `{"arguments":{"snippetname":"a","snippet":"x"}}`)
	assertResponse(t, code, content, http.StatusInternalServerError, "Error saving snippet")

	logs := ts.logs.String()
	if !strings.Contains(logs, "level=ERROR") || !strings.Contains(logs, "storage account unreachable") {
		t.Fatalf("backend detail should be logged at error level, logs:\n%s", logs)
	}
}

func TestFunctionKeyRequired(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{FunctionKey: "secret"})

	code, content := ts.post(t, "/api/hello_mcp", "")
	assertResponse(t, code, content, http.StatusUnauthorized, "Unauthorized")

	code, content = ts.post(t, "/api/hello_mcp?code=wrong", "")
	assertResponse(t, code, content, http.StatusUnauthorized, "Unauthorized")

	code, content = ts.post(t, "/api/hello_mcp?code=secret", "")
	assertResponse(t, code, content, http.StatusOK, "Hello I am MCPTool!")

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/hello_mcp", nil)
	req.Header.Set(FunctionKeyHeader, "secret")
	ts.server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("header key status = %d, want 200", recorder.Code)
	}
}

func TestRateLimitedClientsGet429(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{
		RateLimit: httpx.RateLimitConfig{RequestsPerMinute: 1, Burst: 1},
	})

	code, _ := ts.post(t, "/api/hello_mcp", "")
	if code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", code)
	}
	code, content := ts.post(t, "/api/hello_mcp", "")
	assertResponse(t, code, content, http.StatusTooManyRequests, "Too many requests")
}

func TestMetricsCountRequestsByStatus(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{})
	ts.post(t, "/api/get_snippet", `{"arguments":{"snippetname":"a"}}`)
	ts.post(t, "/api/get_snippet", `{}`)
	ts.post(t, "/api/get_snippet", `{}`)

	if got := testutil.ToFloat64(ts.server.metrics.requests.WithLabelValues("get_snippet", "200")); got != 1 {
		t.Fatalf("get_snippet 200 count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ts.server.metrics.requests.WithLabelValues("get_snippet", "400")); got != 2 {
		t.Fatalf("get_snippet 400 count = %v, want 2", got)
	}

	recorder := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), "snipbridge_tool_requests_total") {
		t.Fatalf("/metrics output missing tool counter:\n%s", body)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, objectstore.NewMemory(), Config{FunctionKey: "secret"})
	recorder := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", recorder.Code)
	}
}
