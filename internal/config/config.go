// Package config loads the verification service configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
//  1. Built-in defaults
//  2. YAML configuration file
//  3. Environment variables (TSAVERIFY_ prefix, "__" separates sections)
//
// Example: TSAVERIFY_SERVER__ADDRESS=:9000 sets server.address and
// TSAVERIFY_PROVIDERS_FILE=/etc/tsa.yaml sets providers_file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "TSAVERIFY_"

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the service configuration.
type Config struct {
	Server        ServerConfig    `koanf:"server"`
	Cache         CacheConfig     `koanf:"cache"`
	RateLimit     RateLimitConfig `koanf:"ratelimit"`
	ProvidersFile string          `koanf:"providers_file"`
	AuditLog      string          `koanf:"audit_log"`
	LogLevel      string          `koanf:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `koanf:"address"`
	TLSCert         string        `koanf:"tls_cert"`
	TLSKey          string        `koanf:"tls_key"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// MaxBatch caps the number of items in one batch request.
	MaxBatch int `koanf:"max_batch"`

	// Workers bounds concurrent verifications per batch. Zero means GOMAXPROCS.
	Workers int `koanf:"workers"`
}

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	Backend  string        `koanf:"backend"`
	TTL      time.Duration `koanf:"ttl"`
	Capacity uint64        `koanf:"capacity"`
	Redis    RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8318",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			MaxBatch:        100,
		},
		Cache: CacheConfig{
			Backend:  CacheMemory,
			TTL:      10 * time.Minute,
			Capacity: 10000,
			Redis:    RedisConfig{Prefix: "tsaverify:"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     20,
			Burst:   40,
		},
		LogLevel: "info",
	}
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return load(path, env.Provider(EnvPrefix, ".", envKey))
}

func load(path string, envProvider koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if envProvider != nil {
		if err := k.Load(envProvider, nil); err != nil {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TSAVERIFY_CACHE__REDIS__ADDR to cache.redis.addr.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.MaxBatch <= 0 {
		errs = append(errs, errors.New("server.max_batch must be positive"))
	}
	if c.Server.Workers < 0 {
		errs = append(errs, errors.New("server.workers must not be negative"))
	}

	switch c.Cache.Backend {
	case CacheNone:
	case CacheMemory, CacheRedis:
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be positive"))
		}
		if c.Cache.Backend == CacheRedis && c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit.rps and ratelimit.burst must be positive when enabled"))
	}

	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}
