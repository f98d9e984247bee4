package domain

import (
	"context"
	"time"
)

// Cache is a tenant-scoped byte cache with fixed-window counters. It holds
// model definitions for the model store and per-applicant
// assessment counts for the velocity service. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error

	// IncrementCounter adds one to the counter and returns the new value.
	// The window starts with the first increment; the count resets to 1
	// once it has elapsed.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ModelCacheKey is the cache key of a model definition.
func ModelCacheKey(modelID string) string {
	return "model:" + modelID
}

// CacheConfig selects the cache. Type "memory" is a local LRU; "redis" is
// Redis alone, or Redis behind a local LRU when EnableTwoPhase is set.
type CacheConfig struct {
	Type string `json:"type" yaml:"type"`

	LocalMaxSize int `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     int `json:"localTtl" yaml:"localTtl"` // seconds, upper bound for L1 entries

	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"`
}
