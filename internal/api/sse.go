package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// StreamEvents handles GET /reviews/{jobId}/events.
// It streams server-sent events for the job until it finishes or the client disconnects.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")

	// Subscribe before reading so a transition between the read and the
	// subscription cannot be missed.
	ch := h.sched.Subscribe(id)
	defer h.sched.Unsubscribe(id, ch)

	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("event stream keeps write deadline", "job_id", id, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// If already terminal, send the result event and close immediately.
	if j.Status.IsTerminal() {
		writeSSEEvent(w, rc, "result", j)
		return
	}
	writeSSEEvent(w, rc, "status", j)

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, rc, event.Event, event.Job)
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	rc.Flush() //nolint:errcheck
}
