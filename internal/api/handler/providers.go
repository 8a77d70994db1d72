package handler

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/tsa-verifier/internal/api/dto"
	"github.com/remiblancher/tsa-verifier/internal/provider"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// ProviderHandler exposes the provider registry.
type ProviderHandler struct {
	registry *provider.Registry
}

// NewProviderHandler creates a new ProviderHandler.
func NewProviderHandler(registry *provider.Registry) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

// List handles GET /api/v1/providers.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles := h.registry.Profiles()
	resp := dto.ProvidersResponse{
		Providers: make([]dto.ProviderInfo, 0, len(profiles)),
		Total:     len(profiles),
	}
	for _, p := range profiles {
		resp.Providers = append(resp.Providers, providerInfo(p))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/providers/{name}. Aliases resolve to their
// provider.
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, providerInfo(p))
}

func providerInfo(p *provider.Profile) dto.ProviderInfo {
	info := dto.ProviderInfo{
		Name:          p.Name,
		DisplayName:   p.Title(),
		URL:           p.URL,
		Aliases:       p.Aliases,
		TrustMode:     string(p.Mode),
		Organizations: p.Organizations,
	}
	for _, alg := range p.Permitted() {
		info.HashAlgorithms = append(info.HashAlgorithms, alg.String())
	}
	for _, anchor := range p.Anchors {
		info.Anchors = append(info.Anchors, hex.EncodeToString(tsa.Fingerprint(anchor)))
	}
	if !p.NotBefore.IsZero() {
		info.NotBefore = p.NotBefore.UTC().Format(time.RFC3339)
	}
	if !p.NotAfter.IsZero() {
		info.NotAfter = p.NotAfter.UTC().Format(time.RFC3339)
	}
	return info
}
