// Package cache stores completed verification verdicts so that repeated
// requests for the same token, hash and provider skip the cryptography.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/remiblancher/tsa-verifier/internal/config"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// Cache is a verdict store. Get reports a miss with (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*verifier.Result, bool, error)
	Set(ctx context.Context, key string, res *verifier.Result) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the cache selected by cfg. The none backend yields a nil Cache.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheMemory:
		return NewMemory(cfg.TTL, cfg.Capacity), nil
	case config.CacheRedis:
		return NewRedis(cfg.Redis, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Key derives the cache key of a request. It returns false when the request
// cannot produce a cacheable verdict (missing fields or undecodable token).
// Equivalent encodings of the same token map to the same key.
func Key(req verifier.Request) (string, bool) {
	if req.Token.IsZero() || strings.TrimSpace(req.Provider) == "" {
		return "", false
	}
	hashText := strings.ToLower(strings.TrimSpace(req.Hash))
	if hashText == "" {
		if len(req.HashBytes) == 0 {
			return "", false
		}
		hashText = hex.EncodeToString(req.HashBytes)
	}
	canonical, err := tsa.Decode(req.Token)
	if err != nil {
		return "", false
	}

	h := sha256.New()
	for _, part := range [][]byte{
		[]byte(strings.ToLower(strings.TrimSpace(req.Provider))),
		[]byte(req.HashAlgorithm),
		[]byte(hashText),
		canonical,
	} {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// Cacheable reports whether res may be stored. Only valid verdicts are
// cached: failures carry an error value that does not survive encoding.
func Cacheable(res *verifier.Result) bool {
	return res != nil && res.Valid && res.Completed()
}

func encode(res *verifier.Result) ([]byte, error) {
	return json.Marshal(res)
}

func decode(data []byte) (*verifier.Result, error) {
	var res verifier.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &res, nil
}
