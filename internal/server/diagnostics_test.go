package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"neurallink/internal/domain"
	"neurallink/internal/metrics"
)

type fakeEngine struct {
	logs []domain.LogEntry
}

func (f fakeEngine) Status() domain.Status {
	return domain.Status{State: domain.StateConnected, Active: true, SessionID: "s-1"}
}

func (f fakeEngine) Logs() []domain.LogEntry { return f.logs }

func (f fakeEngine) Diagnostics() domain.Diagnostics {
	return domain.Diagnostics{Status: f.Status(), ActivePlaybackUnits: 2, NextStartTime: 300 * time.Millisecond}
}

func newEngine() fakeEngine {
	var logs []domain.LogEntry
	for i := 0; i < 3; i++ {
		logs = append(logs, domain.LogEntry{Sender: domain.SenderSystem, Message: fmt.Sprintf("line %d", i)})
	}
	return fakeEngine{logs: logs}
}

func TestRouterHealthAndStatus(t *testing.T) {
	t.Parallel()

	router := NewRouter(newEngine(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var d domain.Diagnostics
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("invalid status json: %v", err)
	}
	if d.Status.State != domain.StateConnected || d.ActivePlaybackUnits != 2 {
		t.Fatalf("unexpected diagnostics: %+v", d)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics absent without registry, got %d", rec.Code)
	}
}

func TestRouterLogsLimit(t *testing.T) {
	t.Parallel()

	router := NewRouter(newEngine(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?limit=2", nil))
	var logs []domain.LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("invalid logs json: %v", err)
	}
	if len(logs) != 2 || logs[1].Message != "line 2" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)
	m.ChunkSent(100)
	router := NewRouter(newEngine(), m.Registry())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "neurallink_capture_chunks_sent_total 1") {
		t.Fatalf("expected metric in output, got %s", rec.Body.String())
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	t.Parallel()

	srv := New("127.0.0.1:0", NewRouter(newEngine(), nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := srv.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
