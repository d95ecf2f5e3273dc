package domain

import (
	"context"
)

// Statement is one named write executed inside a graph transaction.
type Statement struct {
	Name   string
	Cypher string
}

// GraphStore opens write transactions against the identity graph.
type GraphStore interface {
	// Begin starts an explicit write transaction.
	Begin(ctx context.Context) (GraphTx, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close(ctx context.Context) error
}

// GraphTx is an open transaction. Rollback after Commit is a no-op.
type GraphTx interface {
	Run(ctx context.Context, stmt Statement, params map[string]any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
