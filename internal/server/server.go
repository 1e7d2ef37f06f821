package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GriffinCanCode/livetag/internal/history"
	"github.com/GriffinCanCode/livetag/internal/orchestrator"
	"github.com/GriffinCanCode/livetag/internal/trace"
)

// StatusSource publishes run state snapshots.
type StatusSource interface {
	Snapshot() orchestrator.State
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe() (<-chan orchestrator.Event, func())
}

// RecentSource is the in-memory log of recent events.
type RecentSource interface {
	Last(n int) []orchestrator.Event
	Since(cutoff time.Time) []orchestrator.Event
	Counts() map[orchestrator.EventType]int
}

// HistorySource lists committed pairs in commit order.
type HistorySource interface {
	Records() []history.Record
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	orchestrator.State
	Uptime       string                         `json:"uptime"`
	RecentEvents map[orchestrator.EventType]int `json:"recent_events,omitempty"`
}

// CaptureResponse is the /api/capture payload.
type CaptureResponse struct {
	Lines         int    `json:"lines"`
	ExtractedText string `json:"extracted_text"`
	Truncated     bool   `json:"truncated"`
}

// Server is a read-only view of a running monitor.
type Server struct {
	status  StatusSource
	events  EventSource
	metrics http.Handler
	recent  RecentSource
	history HistorySource
	now     func() time.Time
}

// New creates a server. metrics may be nil.
func New(status StatusSource, events EventSource, metrics http.Handler) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{status: status, events: events, metrics: metrics, now: time.Now}
}

// WithRecent enables /api/events.
func (s *Server) WithRecent(r RecentSource) *Server {
	s.recent = r
	return s
}

// WithHistory enables /api/history.
func (s *Server) WithHistory(h HistorySource) *Server {
	s.history = h
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(trace.Middleware)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/capture", s.handleCapture)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/history", s.handleHistory)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		trace.Logger(ctx).Info("status server starting", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	resp := StatusResponse{State: st}
	if !st.StartedAt.IsZero() {
		resp.Uptime = s.now().Sub(st.StartedAt).Round(time.Second).String()
	}
	if s.recent != nil {
		resp.RecentEvents = s.recent.Counts()
	}
	writeJSON(w, resp)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	text := strings.Join(st.LastLines, "\n")
	resp := CaptureResponse{Lines: len(st.LastLines)}
	if runes := []rune(text); len(runes) > TextPreviewLimit {
		text = string(runes[:TextPreviewLimit]) + "..."
		resp.Truncated = true
	}
	resp.ExtractedText = text
	writeJSON(w, resp)
}

// handleEvents serves ?since=<duration> or the newest ?limit=N events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		http.NotFound(w, r)
		return
	}
	var events []orchestrator.Event
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "since must be a positive duration such as 10m", http.StatusBadRequest)
			return
		}
		events = s.recent.Since(s.now().Add(-d))
	} else {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}
		events = s.recent.Last(limit)
	}
	if events == nil {
		events = []orchestrator.Event{}
	}
	writeJSON(w, events)
}

// handleHistory serves the newest ?limit=N committed pairs, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	recs := s.history.Records()
	if limit > 0 && limit < len(recs) {
		recs = recs[len(recs)-limit:]
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, recs)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultEventsLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// handleWebSocket streams saved/duplicate events until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events, cancel := s.events.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			log.Debug("websocket closed", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}
