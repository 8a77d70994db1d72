// Package handler provides HTTP handlers for the REST API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/api/dto"
	apierrors "github.com/remiblancher/tsa-verifier/internal/api/errors"
	"github.com/remiblancher/tsa-verifier/internal/api/middleware"
	"github.com/remiblancher/tsa-verifier/internal/provider"
)

// Pinger is a dependency whose availability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version  string
	registry *provider.Registry
	deps     map[string]Pinger
}

// NewHealthHandler creates a new HealthHandler. deps are checked by Ready.
func NewHealthHandler(version string, registry *provider.Registry, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		registry: registry,
		deps:     deps,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Providers: h.registry.Len(),
	})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"registry": h.registry.Len() > 0,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, dep := range h.deps {
		checks[name] = dep.Ping(ctx) == nil
	}

	allReady := true
	for _, ready := range checks {
		if !ready {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, dto.ReadyResponse{
		Ready:  allReady,
		Checks: checks,
	})
}

// NotFound answers unmatched routes with a JSON error.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusNotFound, apierrors.NewNotFound("route", r.URL.Path))
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *dto.APIError) {
	apiErr.RequestID = middleware.GetRequestID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// handleServiceError maps err to a status code and writes it.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := apierrors.MapError(err)
	respondError(w, r, status, apiErr)
}
