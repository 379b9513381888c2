package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mlukens/codewright/internal/compaction"
	"github.com/mlukens/codewright/internal/events"
	"github.com/mlukens/codewright/internal/retry"
	"github.com/mlukens/codewright/internal/router"
)

func testServer(t *testing.T) (*Server, *events.Bus, *compaction.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := events.New()
	history := compaction.NewEngine(compaction.DefaultConfig(), nil, logger)
	rt := router.New(logger, router.Config{Enabled: true, Models: map[string]string{"simple": "tiny"}})
	rm := retry.NewManager(retry.DefaultConfig(), logger)

	return NewServer(bus, history, rt, rm, nil, logger), bus, history
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, history := testServer(t)
	history.AddMessage("hello", compaction.UserMessage)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"compaction", "router", "retry", "event_subscribers"} {
		if _, ok := body[key]; !ok {
			t.Errorf("stats missing %q section", key)
		}
	}
}

func TestSnapshotsEndpointWithoutManager(t *testing.T) {
	srv, _, _ := testServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/snapshots", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when snapshots are disabled", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	srv, bus, _ := testServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription is registered during the upgrade handshake; give the
	// handler a moment to reach its select loop.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Emit(events.SourceOrchestrator, events.KindTurnStart, map[string]any{"turn": 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Kind != events.KindTurnStart {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.Source != events.SourceOrchestrator {
		t.Errorf("source = %q", ev.Source)
	}
}
