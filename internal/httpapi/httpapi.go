// Package httpapi serves the assistant's operational HTTP surface.
//
// The package exposes:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /status  — live subsystem state (providers, cache, resources).
//   - /metrics — Prometheus scrape endpoint.
//   - POST /cache/invalidate — removes cache entries by fingerprint or category.
//   - POST /providers/{name}/reset — clears a provider's failure state.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/aide/internal/app"
	"github.com/MrWong99/aide/internal/observe"
	"github.com/MrWong99/aide/pkg/types"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Core is the assistant surface the HTTP API exposes. Implemented by
// [app.Assistant]; tests substitute a stub.
type Core interface {
	Status() app.Status
	Invalidate(ctx context.Context, fingerprint string) int
	InvalidateCategory(ctx context.Context, category types.CacheCategory) int
	ResetProvider(name string) bool
}

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "cache",
	// "providers"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the operational endpoints. It is safe for concurrent use;
// the checker list is fixed at construction time.
type Handler struct {
	core     Core
	metrics  *observe.Metrics
	checkers []Checker
}

// New creates a [Handler] around core that evaluates the given checkers on
// each /readyz request. The checkers are evaluated sequentially in the order
// provided.
func New(core Core, metrics *observe.Metrics, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{core: core, metrics: metrics, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Status serves the live subsystem view.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Status())
}

// invalidateRequest is the body of POST /cache/invalidate. Exactly one of
// the fields must be set.
type invalidateRequest struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Category    string `json:"category,omitempty"`
}

// invalidateResponse reports how many entries were removed.
type invalidateResponse struct {
	Removed int `json:"removed"`
}

// Invalidate removes cache entries by fingerprint or category.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json body"}`, http.StatusBadRequest)
		return
	}

	switch {
	case req.Fingerprint != "" && req.Category != "":
		http.Error(w, `{"error":"set fingerprint or category, not both"}`, http.StatusBadRequest)
	case req.Fingerprint != "":
		n := h.core.Invalidate(r.Context(), req.Fingerprint)
		writeJSON(w, http.StatusOK, invalidateResponse{Removed: n})
	case req.Category != "":
		cat := types.CacheCategory(req.Category)
		if !cat.IsValid() {
			http.Error(w, `{"error":"unknown category"}`, http.StatusBadRequest)
			return
		}
		n := h.core.InvalidateCategory(r.Context(), cat)
		writeJSON(w, http.StatusOK, invalidateResponse{Removed: n})
	default:
		http.Error(w, `{"error":"fingerprint or category required"}`, http.StatusBadRequest)
	}
}

// ResetProvider clears a provider's failure state so it re-enters routing.
func (h *Handler) ResetProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.core.ResetProvider(name) {
		http.Error(w, `{"error":"unknown provider"}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /cache/invalidate", h.Invalidate)
	mux.HandleFunc("POST /providers/{name}/reset", h.ResetProvider)
}

// Routes returns the full handler tree wrapped in the tracing and request
// metrics middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	if h.metrics == nil {
		return mux
	}
	return observe.Middleware(h.metrics)(mux)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
