package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/testkit"
)

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMaintenanceMode(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	pub := &testkit.CapturePublisher{}
	srv := New(config.Config{MaintenanceMode: true}, Deps{Publisher: pub})

	if w := do(srv.Handler, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track", `{"type":"page_view","session_id":"s1"}`, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("track: expected 503, got %d", w.Code)
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track/beacon", `{"type":"session_end","session_id":"s1"}`, nil); w.Code != http.StatusNoContent {
		t.Fatalf("beacon: expected 204, got %d", w.Code)
	}
	if n := len(pub.Messages()); n != 0 {
		t.Fatalf("expected nothing published, got %d", n)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	srv := New(config.Config{}, Deps{})
	w := do(srv.Handler, http.MethodOptions, "/api/track", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	pub := &testkit.CapturePublisher{}
	srv := New(config.Config{
		RateLimitPerSec: 0.001,
		RateLimitBurst:  2,
		TrustedProxies:  []string{"192.0.2.0/24"},
	}, Deps{Publisher: pub})

	body := `{"type":"page_view","session_id":"s1","data":{"path":"/"}}`
	a := map[string]string{"X-Forwarded-For": "203.0.113.7"}
	b := map[string]string{"X-Forwarded-For": "203.0.113.8"}

	for i := 0; i < 2; i++ {
		if w := do(srv.Handler, http.MethodPost, "/api/track", body, a); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d body=%s", i, w.Code, w.Body.String())
		}
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track", body, a); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track/beacon", body, a); w.Code != http.StatusNoContent {
		t.Fatalf("beacon: expected 204, got %d", w.Code)
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track", body, b); w.Code != http.StatusAccepted {
		t.Fatalf("other client: expected 202, got %d", w.Code)
	}
}

func TestRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	srv := New(config.Config{RateLimitPerSec: 0.001, RateLimitBurst: 1}, Deps{Publisher: &testkit.CapturePublisher{}})

	body := `{"type":"page_view","session_id":"s1","data":{"path":"/"}}`
	if w := do(srv.Handler, http.MethodPost, "/api/track", body, map[string]string{"X-Forwarded-For": "203.0.113.7"}); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w := do(srv.Handler, http.MethodPost, "/api/track", body, map[string]string{"X-Forwarded-For": "203.0.113.99"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected a fresh forwarding header from an untrusted peer to stay limited, got %d", w.Code)
	}
}

func TestIPRateLimiter_SweepsIdle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	l.allow("a")
	l.allow("b")
	if l.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", l.size())
	}
	now = now.Add(limiterIdleAfter + time.Minute)
	l.allow("c")
	if l.size() != 1 {
		t.Fatalf("expected idle limiters swept, got %d", l.size())
	}
}
