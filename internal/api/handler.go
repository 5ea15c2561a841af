package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reviewgate/reviewgate/internal/config"
	"github.com/reviewgate/reviewgate/internal/job"
	"github.com/reviewgate/reviewgate/internal/scheduler"
	"github.com/reviewgate/reviewgate/internal/telemetry"
)

// maxBodyBytes caps submission bodies.
const maxBodyBytes = 1 << 20

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	sched  *scheduler.Scheduler
	store  job.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(sched *scheduler.Scheduler, store job.Store, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{sched: sched, store: store, cfg: cfg, logger: logger}
}

// RegisterRoutes registers all routes on r. Unknown paths and methods
// both answer 404.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/reviews", h.CreateReview)
	r.Get("/reviews", h.ListReviews)
	r.Get("/reviews/{jobId}", h.GetReview)
	r.Get("/reviews/{jobId}/events", h.StreamEvents)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
}

// Router returns the routes wrapped in the full middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return Chain(r,
		CORS(h.cfg.CORSOrigins, h.cfg.CORSFallbackOrigin),
		RequestID,
		Logging(h.logger),
		Recover(h.logger),
		Auth(h.cfg.ClientKey, h.cfg.Testbed),
		RateLimit(h.cfg.RateLimitRPS),
	)
}

// CreateReview handles POST /reviews and responds 202 with the new job id.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	req := h.decodeCreateRequest(w, r)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	j, err := h.sched.Submit(r.Context(), req.Context())
	if err != nil {
		h.logger.Error("submit review", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": j.ID})
}

// decodeCreateRequest reads the body permissively. Fields are decoded one
// by one, so a badly typed value only affects its own field. A body that
// is empty, oversized, not JSON or not an object decodes as {} so
// validation names every field.
func (h *Handler) decodeCreateRequest(w http.ResponseWriter, r *http.Request) job.CreateRequest {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if !errors.Is(err, io.EOF) {
			h.logger.Debug("malformed review body", "error", err)
		}
		return job.CreateRequest{}
	}
	return req
}

// ListReviews handles GET /reviews and responds 200 with job summaries,
// most recent first.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list reviews", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, summarize(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReview handles GET /reviews/{jobId} and responds 200 with the job,
// including its result or error.
func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// loadJob fetches the job named in the path, writing 404 or 500 itself.
func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := chi.URLParam(r, "jobId")

	j, err := h.store.Get(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get review", "job_id", id, "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return j, true
}

// Health handles GET /health and responds 200 with the job count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": len(jobs)})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
