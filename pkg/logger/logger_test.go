package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	NewWriter("production", &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug logged in production: %s", buf.String())
	}
	NewWriter("dev", &buf).Debug("shown", "queue_id", "q1")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["queue_id"] != "q1" || lines[0]["service"] != serviceName {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_RequestIDAndEnrich(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWriter("production", &buf)))
	r.GET("/v1/queues/:id", func(c *gin.Context) {
		Enrich(c, "workspace_id", "ws1")
		From(c.Request.Context()).Info("handler ran")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/queues/q1", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("request id header %q", got)
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	for _, l := range lines {
		if l["request_id"] != "rid-1" || l["workspace_id"] != "ws1" {
			t.Fatalf("missing request attrs: %v", l)
		}
	}
	if lines[1]["path"] != "/v1/queues/:id" || lines[1]["status"] != float64(http.StatusNoContent) {
		t.Fatalf("unexpected summary: %v", lines[1])
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}
