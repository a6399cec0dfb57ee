package pixel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeGraph struct {
	srv      *httptest.Server
	inits    atomic.Int32
	status   atomic.Int32
	mu       sync.Mutex
	requests []map[string]json.RawMessage
	raw      []string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	g := &fakeGraph{}
	g.status.Store(http.StatusOK)
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v19.0/PIX":
			g.inits.Add(1)
			if r.URL.Query().Get("access_token") != "tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"PIX"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v19.0/PIX/events":
			var body map[string]json.RawMessage
			b := new(strings.Builder)
			dec := json.NewDecoder(r.Body)
			if err := dec.Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			for k, v := range body {
				b.WriteString(k)
				b.Write(v)
			}
			g.mu.Lock()
			g.requests = append(g.requests, body)
			g.raw = append(g.raw, b.String())
			g.mu.Unlock()
			w.WriteHeader(int(g.status.Load()))
			_, _ = w.Write([]byte(`{"events_received":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGraph) transport() *GraphTransport {
	tr := NewGraphTransport("PIX", "tok", "v19.0", "TEST123")
	tr.BaseURL = g.srv.URL
	tr.HTTPClient = g.srv.Client()
	return tr
}

func (g *fakeGraph) batches() []map[string]json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]json.RawMessage(nil), g.requests...)
}

func (g *fakeGraph) rawBodies() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.raw...)
}

func TestGraphTransport_SendBody(t *testing.T) {
	t.Parallel()

	g := newFakeGraph(t)
	tr := g.transport()
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ev := toServerEvent(Event{Name: EventLead, ID: "e-1", User: UserData{Email: "A@B.com"}})
	if err := tr.Send(context.Background(), []ServerEvent{ev}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := g.batches()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	var code string
	if err := json.Unmarshal(got[0]["test_event_code"], &code); err != nil || code != "TEST123" {
		t.Fatalf("test_event_code=%q err=%v", code, err)
	}
	var data []ServerEvent
	if err := json.Unmarshal(got[0]["data"], &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data) != 1 || data[0].EventID != "e-1" || data[0].ActionSource != "website" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestGraphTransport_Errors(t *testing.T) {
	t.Parallel()

	g := newFakeGraph(t)
	tr := g.transport()
	tr.AccessToken = "wrong"
	if err := tr.Init(context.Background()); err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent init error, got %v", err)
	}

	tr = g.transport()
	g.status.Store(http.StatusServiceUnavailable)
	err := tr.Send(context.Background(), []ServerEvent{{EventName: EventLead, EventID: "x"}})
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	empty := &GraphTransport{}
	if err := empty.Init(context.Background()); !IsPermanent(err) {
		t.Fatalf("expected permanent error without credentials, got %v", err)
	}
}
