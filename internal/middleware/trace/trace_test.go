package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logpkg "txcat/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	logger := logpkg.New(logpkg.Config{Output: buf})
	return NewMiddleware(logger, func(r *http.Request) string { return "10.0.0.1" })
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if logpkg.FromContext(r.Context()).Component() != logpkg.ComponentHTTP {
			t.Errorf("request logger not installed")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("expected generated request id, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("response header %q does not match %q", rec.Header().Get(RequestIDHeader), seen)
	}
	out := buf.String()
	for _, want := range []string{"HTTP request completed", "status_code=418", "client_ip=10.0.0.1", "request_id=" + seen} {
		if !strings.Contains(out, want) {
			t.Errorf("access log missing %q: %s", want, out)
		}
	}
	if got := m.GetMetrics(); got.TotalRequests != 1 || got.TotalErrors != 0 {
		t.Errorf("unexpected metrics %+v", got)
	}
}

func TestMiddlewareHonoursIncomingID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"valid id", "abc-123", true},
		{"injection attempt", "abc\nlevel=ERROR", false},
		{"too long", strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMiddleware(&bytes.Buffer{})
			var seen string
			h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(RequestIDHeader, tt.header)
			h.ServeHTTP(httptest.NewRecorder(), req)
			if (seen == tt.header) != tt.keep {
				t.Fatalf("header %q: got id %q", tt.header, seen)
			}
		})
	}
}

func TestMetricsCountServerErrors(t *testing.T) {
	m := newTestMiddleware(&bytes.Buffer{})
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	got := m.GetMetrics()
	if got.TotalRequests != 3 || got.TotalErrors != 3 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	if got.AverageResponseTime() < 0 {
		t.Fatalf("negative average")
	}
}
