// Package web exposes the observability endpoint: a WebSocket event
// stream plus JSON views of runtime statistics and stored snapshots.
package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mlukens/codewright/internal/buildinfo"
	"github.com/mlukens/codewright/internal/compaction"
	"github.com/mlukens/codewright/internal/events"
	"github.com/mlukens/codewright/internal/retry"
	"github.com/mlukens/codewright/internal/router"
	"github.com/mlukens/codewright/internal/snapshot"
)

// Server serves the observability HTTP surface. All endpoints are
// read-only; nothing here mutates session state.
type Server struct {
	bus       *events.Bus
	history   *compaction.Engine
	router    *router.Router
	retry     *retry.Manager
	snapshots *snapshot.Manager
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates the observability server. Any collaborator may be
// nil; its endpoint then reports 404.
func NewServer(bus *events.Bus, history *compaction.Engine, rt *router.Router, rm *retry.Manager, snaps *snapshot.Manager, logger *slog.Logger) *Server {
	return &Server{
		bus:       bus,
		history:   history,
		router:    rt,
		retry:     rm,
		snapshots: snaps,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 32 * 1024,
			// Local observability endpoint, not exposed publicly.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes adds the observability routes to a mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/snapshots", s.handleSnapshots)
	mux.HandleFunc("/router/decisions", s.handleRouterDecisions)
	mux.HandleFunc("/events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}
	if s.history != nil {
		stats["compaction"] = s.history.Statistics()
	}
	if s.router != nil {
		stats["router"] = s.router.GetStats()
	}
	if s.retry != nil {
		stats["retry"] = s.retry.GetStats()
	}
	if s.bus != nil {
		stats["event_subscribers"] = s.bus.SubscriberCount()
	}
	writeJSON(w, stats)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		http.NotFound(w, r)
		return
	}

	list, err := s.snapshots.List()
	if err != nil {
		http.Error(w, fmt.Sprintf("list snapshots: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"count":     len(list),
		"snapshots": list,
	})
}

func (s *Server) handleRouterDecisions(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.router.AuditLog(100))
}

// handleEvents upgrades to WebSocket and streams bus events until the
// client disconnects. Slow clients are disconnected rather than
// allowed to back up the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	s.logger.Debug("event stream client connected", "remote", r.RemoteAddr)

	// Reader goroutine: drains client frames and signals close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream client dropped", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
