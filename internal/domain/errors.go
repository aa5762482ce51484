package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget rejects a start request before any record exists.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrConcurrencyLimit rejects a start while the client already has a
	// running or paused assessment.
	ErrConcurrencyLimit = errors.New("client already has an active assessment")

	// ErrNotFound is returned by store reads for unknown assessment ids.
	ErrNotFound = errors.New("assessment not found")

	// ErrPhaseRecorded guards the append-only results contract.
	ErrPhaseRecorded = errors.New("phase result already recorded")

	// ErrExists rejects creating a record whose id is already taken.
	ErrExists = errors.New("assessment already exists")

	// ErrTerminal rejects mutating an assessment that already ended.
	ErrTerminal = errors.New("assessment is in a terminal state")

	// ErrUnknownPhase rejects a phase name with no registered executor.
	ErrUnknownPhase = errors.New("unknown phase")
)

// PhaseError is a failure a phase executor reports about its own work,
// as opposed to a crash in the executor call. It halts the remaining
// phases and is recorded under results[phase].
type PhaseError struct {
	Phase  string
	Reason string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %s", e.Phase, e.Reason)
}

// NewPhaseError builds a reported phase failure.
func NewPhaseError(phase, format string, args ...any) *PhaseError {
	return &PhaseError{Phase: phase, Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failed store operation with its context.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
