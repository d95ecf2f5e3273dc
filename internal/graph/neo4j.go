package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/shaayud/shaayud/internal/domain"
)

// Neo4jStore runs explicit write transactions on a pooled Neo4j driver.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg domain.GraphConfig) (*Neo4jStore, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		if cfg.ConnectTimeout > 0 {
			c.SocketConnectTimeout = cfg.ConnectTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	verifyCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
	}, nil
}

// EnsureSchema creates the uniqueness constraints. Failures are logged and ignored.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) {
	session := s.newSession(ctx)
	defer session.Close(ctx)

	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			slog.Warn("neo4j schema init failed (continuing)", "statement", q, "error", err)
			continue
		}
		if _, err := res.Consume(ctx); err != nil {
			slog.Warn("neo4j schema init failed (continuing)", "statement", q, "error", err)
		}
	}
}

// Begin opens a session and an explicit transaction on it.
func (s *Neo4jStore) Begin(ctx context.Context) (domain.GraphTx, error) {
	session := s.newSession(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, err
	}
	return &neo4jTx{session: session, tx: tx}, nil
}

// Ping verifies the driver can reach the server.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the driver and its pool.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) newSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

// neo4jTx releases its session once committed or rolled back.
type neo4jTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

func (t *neo4jTx) Run(ctx context.Context, stmt domain.Statement, params map[string]any) error {
	res, err := t.tx.Run(ctx, stmt.Cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (t *neo4jTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	err := t.tx.Commit(ctx)
	t.release(ctx)
	return err
}

func (t *neo4jTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback(ctx)
	t.release(ctx)
	return err
}

func (t *neo4jTx) release(ctx context.Context) {
	_ = t.tx.Close(ctx)
	_ = t.session.Close(ctx)
}
