package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/livetag/internal/history"
	"github.com/GriffinCanCode/livetag/internal/metrics"
	"github.com/GriffinCanCode/livetag/internal/orchestrator"
	"github.com/GriffinCanCode/livetag/internal/syncx"
)

type fakeStatus struct{ st orchestrator.State }

func (f fakeStatus) Snapshot() orchestrator.State { return f.st }

func newTestServer(st orchestrator.State) (*Server, *syncx.Broadcaster[orchestrator.Event]) {
	events := syncx.NewBroadcaster[orchestrator.Event](8)
	return New(fakeStatus{st}, events, metrics.New().Handler()), events
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/status", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestStatus(t *testing.T) {
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(orchestrator.State{
		Session:       "sess",
		StartedAt:     started,
		Cycles:        42,
		Saves:         3,
		PerIdentifier: map[string]int{"125": 3},
		LastStage:     orchestrator.StageIdle,
	})
	srv.now = func() time.Time { return started.Add(90 * time.Second) }

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["session"] != "sess" || got["cycles"] != float64(42) || got["uptime"] != "1m30s" {
		t.Errorf("body = %v", got)
	}
}

func TestCaptureTruncates(t *testing.T) {
	long := strings.Repeat("x", TextPreviewLimit+20)
	srv, _ := newTestServer(orchestrator.State{LastLines: []string{long}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capture", http.NoBody))

	var got CaptureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Truncated || len(got.ExtractedText) != TextPreviewLimit+3 {
		t.Errorf("capture = %d chars truncated=%v", len(got.ExtractedText), got.Truncated)
	}
	if got.Lines != 1 {
		t.Errorf("Lines = %d, want 1", got.Lines)
	}
}

type fakeRecent []orchestrator.Event

func (f fakeRecent) Last(n int) []orchestrator.Event {
	if n > 0 && n < len(f) {
		return f[len(f)-n:]
	}
	return f
}

func (f fakeRecent) Since(cutoff time.Time) []orchestrator.Event {
	var out []orchestrator.Event
	for _, e := range f {
		if !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (f fakeRecent) Counts() map[orchestrator.EventType]int {
	counts := make(map[orchestrator.EventType]int)
	for _, e := range f {
		counts[e.Type]++
	}
	return counts
}

type fakeHistory []history.Record

func (f fakeHistory) Records() []history.Record { return f }

func TestEvents(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})
	srv.WithRecent(fakeRecent{
		{Type: orchestrator.EventSaved, Identifier: "125", Serial: "1"},
		{Type: orchestrator.EventDuplicate, Identifier: "125", Serial: "1"},
	})

	tests := []struct {
		query string
		code  int
		want  int
	}{
		{"", http.StatusOK, 2},
		{"?limit=1", http.StatusOK, 1},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events"+tt.query, http.NoBody))
		if rec.Code != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var got []orchestrator.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("%q: %d events, want %d", tt.query, len(got), tt.want)
		}
	}
}

func TestEventsSince(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(orchestrator.State{})
	srv.now = func() time.Time { return now }
	srv.WithRecent(fakeRecent{
		{Type: orchestrator.EventSaved, Serial: "1", At: now.Add(-time.Hour)},
		{Type: orchestrator.EventSaved, Serial: "2", At: now.Add(-5 * time.Minute)},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?since=10m", http.NoBody))
	var got []orchestrator.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Serial != "2" {
		t.Errorf("events = %+v, want only serial 2", got)
	}

	for _, q := range []string{"?since=soon", "?since=-5m"} {
		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events"+q, http.NoBody))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want %d", q, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestStatusRecentCounts(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})
	srv.WithRecent(fakeRecent{
		{Type: orchestrator.EventSaved},
		{Type: orchestrator.EventSaved},
		{Type: orchestrator.EventDuplicate},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))
	var got StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.RecentEvents[orchestrator.EventSaved] != 2 || got.RecentEvents[orchestrator.EventDuplicate] != 1 {
		t.Errorf("recent_events = %v", got.RecentEvents)
	}
}

func TestHistory(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("without store: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	srv.WithHistory(fakeHistory{
		{Pair: history.Pair{Identifier: "125", Serial: "2361"}},
		{Pair: history.Pair{Identifier: "125", Serial: "2362"}},
		{Pair: history.Pair{Identifier: "41", Serial: "7"}},
	})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", http.NoBody))
	var got []history.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Serial != "2362" || got[1].Identifier != "41" {
		t.Errorf("history = %+v", got)
	}
}

func TestEventsDisabled(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "livetag_cycle_duration_seconds") {
		t.Error("metrics output missing livetag collectors")
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	srv, events := newTestServer(orchestrator.State{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for events.Len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	want := orchestrator.Event{Type: orchestrator.EventSaved, Identifier: "125", Serial: "2362", Path: "shots/ID_125/03-14/2362.png"}
	events.Publish(want)

	var got orchestrator.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Type != want.Type || got.Identifier != want.Identifier || got.Serial != want.Serial || got.Path != want.Path {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestWebSocketUnsubscribesOnClose(t *testing.T) {
	srv, events := newTestServer(orchestrator.State{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for events.Len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	conn.Close(websocket.StatusNormalClosure, "bye")

	for events.Len() != 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber not removed after close")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(orchestrator.State{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
