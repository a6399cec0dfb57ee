package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/testkit"
	"github.com/xokuso/peluquerias-app-sub000/internal/track"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDebugMetricsEndpoint(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	stats := obs.New()
	srv := New(config.Config{EnableDebugEndpoints: true}, Deps{Stats: stats})

	if w := do(srv.Handler, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}

	w := do(srv.Handler, http.MethodGet, "/debug/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Code int `json:"code"`
		Data struct {
			HTTP struct {
				Requests int64 `json:"requests"`
			} `json:"http"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != 0 || body.Data.HTTP.Requests < 1 {
		t.Fatalf("unexpected snapshot: %+v", body)
	}
}

func TestDebugMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	srv := New(config.Config{}, Deps{Stats: obs.New()})
	if w := do(srv.Handler, http.MethodGet, "/debug/metrics", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRoutesFollowDeps(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	bare := New(config.Config{}, Deps{})
	if w := do(bare.Handler, http.MethodGet, "/api/funnels", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("funnels without catalog: expected 404, got %d", w.Code)
	}
	if w := do(bare.Handler, http.MethodGet, "/openapi.json", "", nil); w.Code != http.StatusOK {
		t.Fatalf("openapi: expected 200, got %d", w.Code)
	}

	srv := New(config.Config{}, Deps{Catalog: funnel.DefaultCatalog()})
	w := do(srv.Handler, http.MethodGet, "/api/funnels", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("funnels: expected 200, got %d", w.Code)
	}
	env := testkit.DecodeEnvelope(t, w.Body.Bytes())
	if env.Code != 0 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAccessLogRecordsServerErrors(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	pub := &testkit.CapturePublisher{Err: errors.New("nsqd down")}
	srv := New(config.Config{}, Deps{Publisher: pub, Logger: zap.New(core)})

	if w := do(srv.Handler, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	w := do(srv.Handler, http.MethodPost, "/api/track", `{"type":"page_view","session_id":"s1","data":{"path":"/"}}`, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("track: expected 503, got %d", w.Code)
	}

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/api/track" || fields["status"] != int64(http.StatusServiceUnavailable) {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestClientIPFollowsTrustedProxies(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	clientIP := func(cfg config.Config) string {
		t.Helper()
		pub := &testkit.CapturePublisher{}
		srv := New(cfg, Deps{Publisher: pub})
		w := do(srv.Handler, http.MethodPost, "/api/track", `{"type":"page_view","session_id":"s1","data":{"path":"/"}}`,
			map[string]string{"X-Forwarded-For": "198.51.100.7", "X-Real-IP": "198.51.100.8"})
		if w.Code != http.StatusAccepted {
			t.Fatalf("track: expected 202, got %d", w.Code)
		}
		msgs := pub.Messages()
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		sigs, err := track.DecodeSignals(msgs[0].Body)
		if err != nil || len(sigs) != 1 || sigs[0].Meta == nil {
			t.Fatalf("decode: %v %+v", err, sigs)
		}
		return sigs[0].Meta.ClientIP
	}

	// httptest requests come from 192.0.2.1.
	if got := clientIP(config.Config{}); got != "192.0.2.1" {
		t.Fatalf("untrusted peer: expected socket address, got %q", got)
	}
	if got := clientIP(config.Config{TrustedProxies: []string{"192.0.2.0/24"}}); got != "198.51.100.7" {
		t.Fatalf("trusted peer: expected forwarded address, got %q", got)
	}
}
