package trace

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"presupuesto/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	logger := log.New(log.Config{Level: slog.LevelDebug, JSON: true, Output: buf})
	return NewMiddleware(logger, func(*http.Request) string { return "198.51.100.4" })
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if log.FromContext(r.Context()) == nil {
			t.Error("no logger in request context")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/budget", nil))

	got := rec.Header().Get(RequestIDHeader)
	if !strings.HasPrefix(got, "req_") {
		t.Errorf("generated id %q lacks req_ prefix", got)
	}
	if seen != got {
		t.Errorf("context id %q != header id %q", seen, got)
	}
	if m.TotalRequests() != 1 {
		t.Errorf("TotalRequests = %d, want 1", m.TotalRequests())
	}
}

func TestMiddleware_KeepsValidIncomingID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"valid", "abc-123_XYZ", true},
		{"spaces", "abc 123", false},
		{"too long", strings.Repeat("a", 65), false},
		{"newline injection", "abc\nSet-Cookie: x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTestMiddleware(&buf).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set(RequestIDHeader, tt.incoming)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			got := rec.Header().Get(RequestIDHeader)
			if tt.keep && got != tt.incoming {
				t.Errorf("id = %q, want incoming %q", got, tt.incoming)
			}
			if !tt.keep && got == tt.incoming {
				t.Errorf("invalid incoming id %q was kept", tt.incoming)
			}
		})
	}
}

func TestMiddleware_LogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	h := newTestMiddleware(&buf).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	r := httptest.NewRequest(http.MethodGet, "/missing?x=1", nil)
	r.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), r)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	checks := map[string]any{
		"msg":               "HTTP request completed",
		"level":             "WARN",
		log.FieldRequestID:  "req-42",
		log.FieldPath:       "/missing",
		log.FieldStatusCode: float64(http.StatusNotFound),
		log.FieldClientIP:   "198.51.100.4",
		log.FieldComponent:  log.ComponentHTTP,
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %v", k, entry[k], want)
		}
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(r.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
