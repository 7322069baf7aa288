package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("requestID not set in context")
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req2.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	r.ServeHTTP(w2, req2)
	if got := w2.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))

	if strings.Contains(strings.ToLower(w.Header().Get("Content-Type")), "application/json") {
		t.Fatalf("expected no JSON error body after write; body=%q", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf1 := captureLogger(t)
	r1 := gin.New()
	r1.Use(RequestID())
	r1.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	r1.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/use", nil))
	if !strings.Contains(buf1.String(), `"message":"custom"`) || strings.Contains(buf1.String(), `"request_id"`) {
		t.Fatalf("fallback logger output unexpected: %s", buf1.String())
	}

	buf2 := captureLogger(t)
	r2 := gin.New()
	r2.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r2.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("from-gin")
		zerolog.Ctx(c.Request.Context()).Info().Msg("from-ctx")
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/use", nil)
	req.Header.Set(requestIDHeader, "rid-scoped")
	r2.ServeHTTP(httptest.NewRecorder(), req)

	for _, line := range strings.Split(strings.TrimSpace(buf2.String()), "\n") {
		if strings.Contains(line, "from-") && !strings.Contains(line, `"request_id":"rid-scoped"`) {
			t.Fatalf("request-scoped line missing request_id: %s", line)
		}
	}
	if !strings.Contains(buf2.String(), "from-ctx") {
		t.Fatalf("context logger not attached: %s", buf2.String())
	}
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	if asString("x") != "x" || asString(123) != "" {
		t.Fatalf("asString failed")
	}
	if truncate("hello", 10) != "hello" {
		t.Fatalf("truncate no-op failed")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate = %q; want %q", got, "abcde…")
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("truncate disable failed")
	}
}
