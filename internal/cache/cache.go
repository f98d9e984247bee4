package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrTenantRequired is returned when a call omits the tenant ID.
var ErrTenantRequired = errors.New("tenantID is required")

// New builds the cache named by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
}

// GetModel reads a cached model definition. A miss is (nil, nil).
func GetModel(ctx context.Context, c domain.Cache, tenantID, modelID string) (*domain.RiskModel, error) {
	data, err := c.Get(ctx, tenantID, domain.ModelCacheKey(modelID))
	if err != nil || data == nil {
		return nil, err
	}
	var model domain.RiskModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to decode cached model %s: %w", modelID, err)
	}
	return &model, nil
}

// SetModel caches a model definition under its id.
func SetModel(ctx context.Context, c domain.Cache, tenantID string, model *domain.RiskModel, ttl time.Duration) error {
	if model == nil || model.ID == "" {
		return errors.New("model with an id is required")
	}
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model %s: %w", model.ID, err)
	}
	return c.Set(ctx, tenantID, domain.ModelCacheKey(model.ID), data, ttl)
}

// DeleteModel evicts a model definition.
func DeleteModel(ctx context.Context, c domain.Cache, tenantID, modelID string) error {
	return c.Delete(ctx, tenantID, domain.ModelCacheKey(modelID))
}

// TwoPhaseCache serves reads from a local LRU (L1) and falls back to Redis
// (L2). Counters live in Redis only so every node sees the same velocity.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects to Redis and puts an LRU in front of it.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	l1TTL := time.Duration(cfg.LocalTTL) * time.Second
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: NewLRUCache(cfg.LocalMaxSize), remote: remote, l1TTL: l1TTL}, nil
}

func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	// A stale L1 entry outlives an L2 delete made by another node for at
	// most l1TTL.
	_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 first so a failed remote write leaves L1 untouched.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL))
}

func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 layer.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// makeKey namespaces a key by tenant: kestrel:<tenant>:<key>.
func makeKey(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}

func counterKey(key string) string {
	return "counter:" + key
}
