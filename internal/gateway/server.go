// Package gateway serves the HTTP API: health, scheduler stats, event
// history, the live event stream, and optionally the remote worker endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/gateway/ws"
	"github.com/dohr-michael/capq/internal/scheduler"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// StatsSource provides the scheduler snapshot served at /api/stats.
type StatsSource interface {
	Stats() scheduler.Snapshot
}

// Options configures a Server.
type Options struct {
	Host  string
	Port  int
	Stats StatsSource
	// Worker, when set, is mounted at /api/worker.
	Worker http.Handler
}

// Server is the capq gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	stats      StatsSource
	started    time.Time
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(bus *events.Bus, opts Options) *Server {
	var statsFn ws.StatsFunc
	if opts.Stats != nil {
		statsFn = func() any { return opts.Stats.Stats() }
	}
	hub := ws.NewHub(bus, statsFn)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		stats:   opts.Stats,
		started: time.Now(),
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/ws", hub.ServeWS)
	if opts.Worker != nil {
		r.Handle("/api/worker", opts.Worker)
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is stopped.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("gateway listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown disconnects stream clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"ws_clients": s.hub.Clients(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}
	eventType := events.EventType(r.URL.Query().Get("type"))

	history := s.bus.History(limit)
	out := make([]events.Event, 0, len(history))
	for _, e := range history {
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
