// Package server exposes the operator HTTP API: health, live status, queue
// inspection, stored history, manual reconnects and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/sink"
)

// Controller is the slice of the coordinator the API needs.
type Controller interface {
	Status() coordinator.Status
	Sources() []string
	Reconnect(ctx context.Context, source string) error
}

// QueueView lists queued entries in dequeue order.
type QueueView interface {
	Snapshot(limit int) []queue.Entry
}

// History reads stored snapshots and responses.
type History interface {
	RecentSnapshots(ctx context.Context, limit int) ([]chat.Snapshot, error)
	RecentResponses(ctx context.Context, limit int) ([]sink.Response, error)
}

// Config configures the server.
type Config struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Server represents the HTTP server
type Server struct {
	ctrl    Controller
	queue   QueueView
	history History
	version string
	logger  zerolog.Logger

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time

	// reconnects run past the request that started them
	bg       context.Context
	stopBg   context.CancelFunc
	inflight sync.WaitGroup
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version"`
	Uptime    string                  `json:"uptime"`
	Sources   map[string]SourceHealth `json:"sources"`
	Timestamp string                  `json:"timestamp"`
}

// SourceHealth is one source's line in the health response.
type SourceHealth struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// QueueEntry is the API view of a queued message.
type QueueEntry struct {
	MessageID  string    `json:"message_id"`
	Source     string    `json:"source"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a new HTTP server. queue and history may be nil.
func New(cfg Config, ctrl Controller, q QueueView, history History, version string, logger zerolog.Logger) *Server {
	bg, stop := context.WithCancel(context.Background())
	s := &Server{
		ctrl:      ctrl,
		queue:     q,
		history:   history,
		version:   version,
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
		bg:        bg,
		stopBg:    stop,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/queue", s.queueHandler)
	mux.HandleFunc("GET /api/v1/history/snapshots", s.snapshotsHandler)
	mux.HandleFunc("GET /api/v1/history/responses", s.responsesHandler)
	mux.HandleFunc("POST /api/v1/sources/{name}/reconnect", s.reconnectHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown. It
// returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the HTTP server and abandons running
// reconnects.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopBg()
	s.inflight.Wait()
	return err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	sources := make(map[string]SourceHealth, len(st.Connections))
	status := "healthy"
	for _, c := range st.Connections {
		h := SourceHealth{Healthy: c.Status == coordinator.StatusConnected, Status: string(c.Status), Message: c.LastError}
		if !h.Healthy {
			status = "degraded"
		}
		sources[c.Source] = h
	}
	if !st.Running {
		status = "stopped"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Sources:   sources,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, []QueueEntry{})
		return
	}
	limit, ok := limitParam(w, r, 20)
	if !ok {
		return
	}
	entries := s.queue.Snapshot(limit)
	out := make([]QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueEntry{
			MessageID:  e.Message.ID,
			Source:     e.Message.Source,
			Author:     e.Message.Author.DisplayName,
			Text:       e.Message.Text,
			Score:      e.Score.Total,
			Level:      e.Score.Level.String(),
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history store not configured"})
		return
	}
	limit, ok := limitParam(w, r, 50)
	if !ok {
		return
	}
	snaps, err := s.history.RecentSnapshots(r.Context(), limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read snapshot history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if snaps == nil {
		snaps = []chat.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history store not configured"})
		return
	}
	limit, ok := limitParam(w, r, 50)
	if !ok {
		return
	}
	resps, err := s.history.RecentResponses(r.Context(), limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read response history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if resps == nil {
		resps = []sink.Response{}
	}
	writeJSON(w, http.StatusOK, resps)
}

// reconnectHandler answers 202 at once and runs the connect loop in the
// background.
func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !slices.Contains(s.ctrl.Sources(), name) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown source: " + name})
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		err := s.ctrl.Reconnect(s.bg, name)
		switch {
		case err == nil:
		case errors.Is(err, coordinator.ErrConnectInProgress):
			s.logger.Info().Str("source", name).Msg("Reconnect skipped; already connecting")
		default:
			s.logger.Warn().Err(err).Str("source", name).Msg("Manual reconnect failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting", "source": name})
}

func limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000"})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
