package graph

import (
	"context"
	"fmt"

	"github.com/shaayud/shaayud/internal/domain"
)

// New creates a graph store based on configuration.
// "memory" keeps the graph in process; "neo4j" connects to a Neo4j server.
func New(ctx context.Context, cfg domain.GraphConfig) (domain.GraphStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil

	case "neo4j":
		store, err := NewNeo4jStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.EnsureSchema {
			store.EnsureSchema(ctx)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported graph driver: %s", domain.ErrConfiguration, cfg.Driver)
	}
}
