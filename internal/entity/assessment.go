package entity

import (
	"time"
)

// Status is the lifecycle state of an assessment.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status is final. A terminal assessment is
// never mutated again; reassessing a target requires a new record.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// Active reports whether the assessment still owns its client slot.
func (s Status) Active() bool {
	return s == StatusCreated || s == StatusRunning || s == StatusPaused
}

// Failure kinds distinguish an error the phase executor reported
// from a crash inside the executor call itself.
const (
	FailureKindPhase    = "phase"
	FailureKindInternal = "internal"
)

// PhaseError marks a phase entry in Results as failed.
type PhaseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PhaseReport is the recorded outcome of one phase. Exactly one of Data
// or Error is set. Once written for a phase it is never overwritten.
type PhaseReport struct {
	Phase      string         `json:"phase"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *PhaseError    `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Failed reports whether the phase ended with an error entry.
func (r PhaseReport) Failed() bool { return r.Error != nil }

// Failure describes why an assessment ended in StatusError.
type Failure struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Assessment is the durable record of one assessment run end-to-end.
type Assessment struct {
	ID           string                 `json:"id"`
	Target       string                 `json:"target"`
	ClientID     string                 `json:"client_id"`
	Status       Status                 `json:"status"`
	CurrentPhase string                 `json:"current_phase,omitempty"`
	Phases       []string               `json:"phases"`
	Results      map[string]PhaseReport `json:"results"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      *time.Time             `json:"end_time,omitempty"`
	Error        *Failure               `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// DefaultPhases returns the standard assessment pipeline order.
func DefaultPhases() []string {
	return []string{"recon", "scan", "vulnerability", "exploitation"}
}

// Clone returns a deep copy so readers never alias store-owned state.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	c := *a
	c.Phases = append([]string(nil), a.Phases...)
	c.Results = make(map[string]PhaseReport, len(a.Results))
	for k, v := range a.Results {
		c.Results[k] = v.clone()
	}
	if a.EndTime != nil {
		t := *a.EndTime
		c.EndTime = &t
	}
	if a.Error != nil {
		e := *a.Error
		c.Error = &e
	}
	return &c
}

func (r PhaseReport) clone() PhaseReport {
	c := r
	if r.Data != nil {
		c.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			c.Data[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return c
}

// Completed reports whether every configured phase has a non-failed entry.
func (a *Assessment) Completed() bool {
	for _, p := range a.Phases {
		rep, ok := a.Results[p]
		if !ok || rep.Failed() {
			return false
		}
	}
	return true
}
