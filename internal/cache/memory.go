package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// Memory is an in-process cache with per-entry expiry. Entries are stored
// serialized so callers never share a Result.
type Memory struct {
	items *ttlcache.Cache[string, []byte]
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a cache holding at most capacity entries (0 means
// unbounded) for ttl each, and starts its expiry loop.
func NewMemory(ttl time.Duration, capacity uint64) *Memory {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](capacity))
	}
	m := &Memory{items: ttlcache.New[string, []byte](opts...)}
	go m.items.Start()
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*verifier.Result, bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	res, err := decode(item.Value())
	if err != nil {
		m.items.Delete(key)
		return nil, false, err
	}
	return res, true, nil
}

func (m *Memory) Set(_ context.Context, key string, res *verifier.Result) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	m.items.Set(key, data, ttlcache.DefaultTTL)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (m *Memory) Len() int { return m.items.Len() }

// Close stops the expiry loop.
func (m *Memory) Close() error {
	m.items.Stop()
	return nil
}
