package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/remiblancher/tsa-verifier/internal/config"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// Redis shares verdicts between service instances.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis-backed cache. No connection is made until the
// first command.
func NewRedis(cfg config.RedisConfig, ttl time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, prefix: cfg.Prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (*verifier.Result, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	res, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, res *verifier.Result) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
