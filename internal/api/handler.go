package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Error codes returned in JSON error bodies.
const (
	CodeNoActiveConfiguration = "NO_ACTIVE_CONFIGURATION"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeMalformedRule         = "MALFORMED_RULE"
	CodeUnavailable           = "UNAVAILABLE"
	CodeInternal              = "INTERNAL"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	scorer  *scoring.Service
	version string
}

// NewHandler creates a new API handler. bus may be nil, which disables
// asynchronous runs.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, scorer *scoring.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		scorer:  scorer,
		version: version,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the store is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "repository not available")
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "repository not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetScores handles GET /scores?branch=&asOf=&fresh=.
func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	asOf, err := parseAsOf(q.Get("asOf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "asOf must be an RFC3339 timestamp or a date")
		return
	}
	fresh, _ := strconv.ParseBool(q.Get("fresh"))

	report, err := h.scorer.Calculate(ctx, scoring.Request{
		TenantID: GetTenantID(ctx),
		BranchID: optionalParam(q.Get("branch")),
		AsOf:     asOf,
		Fresh:    fresh,
	})
	if err != nil {
		h.fail(w, r, "failed to calculate scores", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunRequest is the body of POST /scores/runs.
type RunRequest struct {
	BranchID *string    `json:"branchId,omitempty"`
	AsOf     *time.Time `json:"asOf,omitempty"`
}

// CreateRun queues an asynchronous scoring run.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "event bus not available")
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON request body")
			return
		}
	}

	run := &domain.ScoreRun{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		BranchID:    req.BranchID,
		Status:      domain.RunStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveScoreRun(ctx, tenantID, run); err != nil {
		h.fail(w, r, "failed to save score run", err)
		return
	}

	payload, err := json.Marshal(domain.ScoreRequest{
		RunID:    run.ID,
		TenantID: tenantID,
		BranchID: req.BranchID,
		AsOf:     req.AsOf,
		TraceID:  GetTraceID(ctx),
	})
	if err != nil {
		h.fail(w, r, "failed to encode score request", err)
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicScoreRequested, payload); err != nil {
		h.fail(w, r, "failed to publish score request", err)
		return
	}

	writeJSON(w, http.StatusAccepted, run)
}

// GetRun returns a stored run summary.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := h.repo.GetScoreRun(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "failed to get score run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// fail maps domain errors to HTTP statuses and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var malformed *domain.MalformedRuleError
	switch {
	case errors.Is(err, domain.ErrNoActiveConfiguration):
		writeError(w, http.StatusNotFound, CodeNoActiveConfiguration, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.As(err, &malformed):
		writeError(w, http.StatusBadRequest, CodeMalformedRule, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
	default:
		slog.Error(msg,
			"tenant_id", GetTenantID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, CodeInternal, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func optionalParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// parseAsOf accepts RFC3339 or a bare date. Empty means now.
func parseAsOf(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, v); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
