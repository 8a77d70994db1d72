package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/api/middleware"
	"github.com/remiblancher/tsa-verifier/internal/api/router"
	"github.com/remiblancher/tsa-verifier/internal/api/server"
	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/cache"
	"github.com/remiblancher/tsa-verifier/internal/config"
	"github.com/remiblancher/tsa-verifier/internal/metrics"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP verification service",
	Long: `Start the HTTP verification service.

Endpoints:
  POST /api/v1/verify         Verify one token (JSON or application/cbor)
  POST /api/v1/verify/batch   Verify several JSON documents
  GET  /api/v1/providers      List providers
  GET  /health, /ready        Liveness and readiness
  GET  /metrics               Prometheus metrics
  GET  /api/openapi.yaml      OpenAPI description

Configuration is read from defaults, then the --config YAML file, then
TSAVERIFY_* environment variables (nested keys joined with "__", for
example TSAVERIFY_SERVER__ADDRESS). --address overrides all of them.

Examples:
  tsaverify serve
  tsaverify serve --config /etc/tsaverify.yaml
  TSAVERIFY_CACHE__BACKEND=redis TSAVERIFY_CACHE__REDIS__ADDR=redis:6379 tsaverify serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveConfig  string
	serveAddress string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Configuration file (YAML)")
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (overrides configuration)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return err
	}
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}

	level := cfg.Level()
	if debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "tsaverify",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})

	// The CLI flag wins over the configuration file.
	if auditLogPath == "" && cfg.AuditLog != "" {
		if err := audit.InitFile(cfg.AuditLog); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
	}

	path := providersFile
	if path == "" {
		path = cfg.ProvidersFile
	}
	reg, err := loadRegistry(path, logger)
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return err
	}
	if c != nil {
		defer func() { _ = c.Close() }()
	}

	m := metrics.New()

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, m)
		defer limiter.Stop()
	}

	host, _ := os.Hostname()
	handler := router.New(&router.Config{
		Version:      version,
		Verifier:     verifier.New(reg, verifier.WithLogger(logger)),
		Logger:       logger.Named("api"),
		Cache:        c,
		Metrics:      m,
		RateLimiter:  limiter,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		MaxBatch:     cfg.Server.MaxBatch,
		Workers:      cfg.Server.Workers,
		Host:         host,
	})

	logger.Info("starting verification service",
		"version", version,
		"address", cfg.Server.Address,
		"providers", reg.Len(),
		"cache", cfg.Cache.Backend,
		"rate_limit", cfg.RateLimit.Enabled,
		"audit", audit.Enabled())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return server.New(cfg.Server, handler, logger.Named("server")).Run(ctx)
}
