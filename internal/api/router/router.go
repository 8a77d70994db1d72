// Package router provides HTTP routing configuration using Chi.
package router

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/remiblancher/tsa-verifier/internal/api/handler"
	"github.com/remiblancher/tsa-verifier/internal/api/middleware"
	"github.com/remiblancher/tsa-verifier/internal/api/service"
	"github.com/remiblancher/tsa-verifier/internal/cache"
	"github.com/remiblancher/tsa-verifier/internal/metrics"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration.
type Config struct {
	Version  string
	Verifier *verifier.Verifier
	Logger   hclog.Logger

	// Optional collaborators; nil disables them.
	Cache       cache.Cache
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter

	MaxBodyBytes int64
	MaxBatch     int
	Workers      int
	Host         string // recorded in audit events
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	r.Use(middleware.CORS)
	r.NotFound(handler.NotFound)

	registry := cfg.Verifier.Registry()

	deps := map[string]handler.Pinger{}
	if cfg.Cache != nil {
		deps["cache"] = cfg.Cache
	}

	// Health endpoints
	healthHandler := handler.NewHealthHandler(cfg.Version, registry, deps)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// OpenAPI spec
	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	verifyService := service.NewVerifyService(cfg.Verifier, service.Options{
		Cache:    cfg.Cache,
		Metrics:  cfg.Metrics,
		Logger:   logger.Named("service"),
		Workers:  cfg.Workers,
		MaxBatch: cfg.MaxBatch,
	})
	verifyHandler := handler.NewVerifyHandler(verifyService, cfg.Host)
	providerHandler := handler.NewProviderHandler(registry)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}
		if cfg.MaxBodyBytes > 0 {
			r.Use(middleware.MaxBody(cfg.MaxBodyBytes))
		}

		r.Post("/verify", verifyHandler.Verify)
		r.Post("/verify/batch", verifyHandler.VerifyBatch)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providerHandler.List)
			r.Get("/{name}", providerHandler.Get)
		})
	})

	return r
}

// serveOpenAPISpec serves the OpenAPI specification file.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}
