package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput means the raw record cannot be used. Client-side fault, never retried.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConfiguration means static configuration (rule set, environment) failed to load.
	ErrConfiguration = errors.New("configuration error")

	// ErrIngestFailed is the single outcome reported to callers for any graph failure.
	ErrIngestFailed = errors.New("ingest failed")

	// ErrMissingIdentityKey means a mandatory node key was absent when binding parameters.
	ErrMissingIdentityKey = errors.New("missing identity key")

	// ErrAdmissionCanceled means the caller gave up while queued for a graph transaction.
	ErrAdmissionCanceled = errors.New("admission canceled")

	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("record not found")
)

// TxPhase identifies where a graph transaction failed.
type TxPhase string

const (
	PhaseStart   TxPhase = "start"
	PhaseExecute TxPhase = "execute"
	PhaseCommit  TxPhase = "commit"
)

// GraphTxError reports a failure while talking to the graph store.
type GraphTxError struct {
	Phase     TxPhase
	Statement string // set for PhaseExecute
	Err       error
}

func (e *GraphTxError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("graph transaction %s failed (statement %s): %v", e.Phase, e.Statement, e.Err)
	}
	return fmt.Sprintf("graph transaction %s failed: %v", e.Phase, e.Err)
}

func (e *GraphTxError) Unwrap() error {
	return e.Err
}

// Malformed wraps a validation message as ErrMalformedInput.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
