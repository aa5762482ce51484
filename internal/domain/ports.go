package domain

import (
	"context"
	"time"

	"bytemomo/redstorm/internal/entity"
)

// ProgressFunc lets a phase executor push mid-phase updates to the client.
// Implementations must never block phase execution.
type ProgressFunc func(update map[string]any)

// PhaseOptions carries the per-phase context the orchestrator hands to an
// executor. Params is the opaque option map from the assessment config.
type PhaseOptions struct {
	AssessmentID string
	ClientID     string
	Timeout      time.Duration
	Params       map[string]any
	Progress     ProgressFunc
}

// PhaseExecutor performs one phase's work against a target. A returned
// *PhaseError is a reported, recordable failure; any other error is
// treated as an internal executor fault. Executors must honor ctx and
// return within their timeout rather than hang.
type PhaseExecutor interface {
	Name() string
	Execute(ctx context.Context, target string, opts PhaseOptions) (map[string]any, error)
}

// ExecutorRegistry resolves a phase name to its executor.
type ExecutorRegistry interface {
	Lookup(phase string) (PhaseExecutor, bool)
	Names() []string
}

// EventPublisher delivers an event to whatever transport is currently
// bound to clientID. When no transport is connected the event is dropped;
// there is no buffering or replay. Errors are for logging only and must
// never abort the phase loop.
type EventPublisher interface {
	Publish(clientID string, ev Event) error
}

// StatusUpdate is an atomic merge applied to a stored assessment.
// Zero fields are left unchanged. Result is append-only: a phase that
// already has an entry is never overwritten.
type StatusUpdate struct {
	Status       entity.Status
	CurrentPhase *string
	Result       *entity.PhaseReport
	Error        *entity.Failure
	EndTime      *time.Time
}

// AssessmentStore is the durable record store. Writes to a single
// assessment are serialized by the implementation; records are
// self-contained and there are no cross-record transactions.
type AssessmentStore interface {
	Create(a *entity.Assessment) error
	Get(id string) (*entity.Assessment, error)
	UpdateStatus(id string, upd StatusUpdate) error
	ListActive(clientID string) ([]*entity.Assessment, error)
	List() ([]*entity.Assessment, error)
	Delete(id string) error
}

// Apply merges upd into a. Shared by store implementations so the
// append-only results contract lives in one place.
func Apply(a *entity.Assessment, upd StatusUpdate) error {
	if upd.Status != "" && a.Status.Terminal() && upd.Status != a.Status {
		return &StoreError{Op: "update", ID: a.ID, Err: ErrTerminal}
	}
	if upd.Result != nil {
		if _, exists := a.Results[upd.Result.Phase]; exists {
			return &StoreError{Op: "update", ID: a.ID, Err: ErrPhaseRecorded}
		}
		if a.Results == nil {
			a.Results = make(map[string]entity.PhaseReport)
		}
		a.Results[upd.Result.Phase] = *upd.Result
	}
	if upd.Status != "" {
		a.Status = upd.Status
	}
	if upd.CurrentPhase != nil {
		a.CurrentPhase = *upd.CurrentPhase
	}
	if upd.Error != nil {
		a.Error = upd.Error
	}
	if upd.EndTime != nil {
		a.EndTime = upd.EndTime
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}
