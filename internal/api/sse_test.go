package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reviewgate/reviewgate/internal/clock"
	"github.com/reviewgate/reviewgate/internal/job"
	"github.com/reviewgate/reviewgate/internal/scheduler"
	"github.com/reviewgate/reviewgate/internal/worker"
)

func TestStreamEvents_LogsUnsupportedWriteDeadline(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := job.NewMemoryStore(clk)
	sched := scheduler.New(store, worker.NewSimulated(clk, 10*time.Millisecond, worker.ModeSuccess), logger)
	t.Cleanup(sched.Close)

	j, err := sched.Submit(context.Background(), job.ReviewContext{ProjectID: "p", PullRequestID: 1, IterationID: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	clk.Advance(10 * time.Millisecond)

	r := chi.NewRouter()
	NewHandler(sched, store, testConfig(), logger).RegisterRoutes(r)

	// ResponseRecorder cannot set deadlines.
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reviews/"+j.ID+"/events", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "event: result") {
		t.Errorf("body = %q, want a result event", rr.Body.String())
	}
	if !strings.Contains(logs.String(), "event stream keeps write deadline") {
		t.Errorf("logs = %q, want the write deadline error logged", logs.String())
	}
}
