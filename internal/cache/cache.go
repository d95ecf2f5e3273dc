// Package cache provides the windowed counter backends behind velocity facts.
package cache

import (
	"fmt"

	"github.com/shaayud/shaayud/internal/domain"
)

// New creates a counter backend based on configuration.
// "memory" keeps counters in-process; "redis" shares them across instances.
func New(cfg domain.CacheConfig) (domain.Counter, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCounter(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCounter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("%w: unsupported cache type: %s", domain.ErrConfiguration, cfg.Type)
	}
}
