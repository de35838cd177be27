package httpx

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func assertLogContains(t *testing.T, logLine, want string) {
	t.Helper()
	if !strings.Contains(logLine, want) {
		t.Fatalf("log line %q does not contain %q", logLine, want)
	}
}

func TestRequestLoggerLogsRequestAndIDs(t *testing.T) {
	t.Parallel()

	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))

	engine := gin.New()
	engine.Use(RequestLogger(logger, "thread_id", "run_id"))
	engine.GET("/threads/:thread_id/runs/:run_id", func(c *gin.Context) {
		c.String(http.StatusCreated, "ok")
	})

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/threads/thread_1/runs/run_2", nil))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status mismatch: got=%d want=%d", recorder.Code, http.StatusCreated)
	}
	logLine := logBuffer.String()
	assertLogContains(t, logLine, `msg="http request"`)
	assertLogContains(t, logLine, "method=GET")
	assertLogContains(t, logLine, "path=/threads/thread_1/runs/run_2")
	assertLogContains(t, logLine, "status=201")
	assertLogContains(t, logLine, "bytes=2")
	assertLogContains(t, logLine, "thread_id=thread_1")
	assertLogContains(t, logLine, "run_id=run_2")
	assertLogContains(t, logLine, "duration_ms=")
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RateLimit(RateLimitConfig{RequestsPerMinute: 1, Burst: 2}, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"content": "Too many requests"})
	}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		engine.ServeHTTP(recorder, req)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 200 429]", codes)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", recorder.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RateLimit(RateLimitConfig{}, nil))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 20; i++ {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, recorder.Code)
		}
	}
}

func TestRateLimiterEvictsIdleEntries(t *testing.T) {
	t.Parallel()

	limiter := newRateLimiter(RateLimitConfig{RequestsPerMinute: 60, EntryTTL: time.Minute, CleanupInterval: time.Second})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.allow("ip:a")
	now = now.Add(2 * time.Minute)
	limiter.allow("ip:b")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.entries["ip:a"]; ok {
		t.Fatalf("idle entry was not evicted")
	}
	if _, ok := limiter.entries["ip:b"]; !ok {
		t.Fatalf("active entry missing")
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	go func() {
		done <- ServeListener(ctx, ln, handler, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ServeListener() did not return after cancel")
	}
}
