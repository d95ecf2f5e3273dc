// Package graph writes ingest facts into the identity graph.
package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaayud/shaayud/internal/domain"
)

const rollbackTimeout = 5 * time.Second

// Upserter executes the merge transaction for one ingest.
type Upserter struct {
	store domain.GraphStore
	now   func() time.Time
	newID func() string
}

// NewUpserter creates an upserter writing to store.
func NewUpserter(store domain.GraphStore) *Upserter {
	return &Upserter{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Upsert writes facts and score in one transaction: either every node and edge
// reflects the new facts or none do. Failures are *domain.GraphTxError except a
// missing identity key, which is detected before the transaction starts.
func (u *Upserter) Upsert(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) error {
	binder, err := BindFacts(facts, score, u.newID(), u.now())
	if err != nil {
		return err
	}
	params := binder.Params()

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return &domain.GraphTxError{Phase: domain.PhaseStart, Err: err}
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if err := tx.Rollback(rbCtx); err != nil {
			slog.Warn("graph rollback failed",
				"event_id", facts.Event.ID,
				"error", err,
			)
		}
	}()

	for _, stmt := range Plan(facts) {
		if err := tx.Run(ctx, stmt, params); err != nil {
			return &domain.GraphTxError{Phase: domain.PhaseExecute, Statement: stmt.Name, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.GraphTxError{Phase: domain.PhaseCommit, Err: err}
	}
	committed = true
	return nil
}
