package domain

import (
	"context"
	"time"
)

// Counter keeps windowed activity counters used for velocity facts.
type Counter interface {
	// IncrementCounter atomically increments key and returns the new value.
	// The window starts with the first increment and the count resets when it expires.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for the counter backend.
type CacheConfig struct {
	// Type is the backend type: "memory" or "redis"
	Type string `env:"TYPE" envDefault:"memory"`

	// Local LRU settings
	LocalMaxSize int `env:"LOCAL_MAX_SIZE" envDefault:"10000"`

	// Redis settings
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}
