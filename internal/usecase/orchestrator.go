package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

// Config contains orchestrator configuration.
type Config struct {
	DefaultPhases []string                  `yaml:"default_phases" json:"default_phases"`
	PhaseTimeout  time.Duration             `yaml:"phase_timeout" json:"phase_timeout"`
	PhaseParams   map[string]map[string]any `yaml:"phase_params" json:"phase_params"`
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPhases: entity.DefaultPhases(),
		PhaseTimeout:  5 * time.Minute,
	}
}

// Orchestrator drives the phase state machine for every in-flight
// assessment. Each assessment runs on its own goroutine; the only shared
// mutable state between them is the assessment store.
type Orchestrator struct {
	store     domain.AssessmentStore
	publisher domain.EventPublisher
	registry  domain.ExecutorRegistry
	config    Config

	mu       sync.Mutex
	runs     map[string]*run
	byClient map[string]*run
	wg       sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over the given store, publisher
// and executor registry.
func NewOrchestrator(store domain.AssessmentStore, publisher domain.EventPublisher, registry domain.ExecutorRegistry, config Config) *Orchestrator {
	if len(config.DefaultPhases) == 0 {
		config.DefaultPhases = entity.DefaultPhases()
	}
	if config.PhaseTimeout <= 0 {
		config.PhaseTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		publisher: publisher,
		registry:  registry,
		config:    config,
		runs:      make(map[string]*run),
		byClient:  make(map[string]*run),
	}
}

// run holds the cooperative control state for one in-flight assessment.
// Pause and stop are observed only at phase boundaries.
type run struct {
	id       string
	clientID string

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

func newRun(id, clientID string) *run {
	r := &run{id: id, clientID: clientID}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *run) pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

func (r *run) resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *run) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// checkpoint blocks while the run is paused and reports whether a stop
// was requested. Called once before each phase.
func (r *run) checkpoint() (stopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && !r.stopped {
		r.cond.Wait()
	}
	return r.stopped
}

// Start validates the request, records a new assessment and begins
// executing its phases asynchronously. It returns the assessment id
// immediately; progress is observed through events or GetStatus.
func (o *Orchestrator) Start(target, clientID string, phases []string) (string, error) {
	target = strings.TrimSpace(target)
	if err := validateTarget(target); err != nil {
		return "", err
	}
	if len(phases) == 0 {
		phases = append([]string(nil), o.config.DefaultPhases...)
	}
	for _, p := range phases {
		if _, ok := o.registry.Lookup(p); !ok {
			return "", fmt.Errorf("%w: %q", domain.ErrUnknownPhase, p)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.byClient[clientID]; busy {
		return "", domain.ErrConcurrencyLimit
	}
	active, err := o.store.ListActive(clientID)
	if err != nil {
		return "", err
	}
	if len(active) > 0 {
		return "", domain.ErrConcurrencyLimit
	}

	now := time.Now().UTC()
	a := &entity.Assessment{
		ID:        uuid.NewString(),
		Target:    target,
		ClientID:  clientID,
		Status:    entity.StatusCreated,
		Phases:    phases,
		Results:   make(map[string]entity.PhaseReport),
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(a); err != nil {
		return "", err
	}

	r := newRun(a.ID, clientID)
	o.runs[a.ID] = r
	o.byClient[clientID] = r

	o.wg.Add(1)
	go o.execute(r, a)

	log.WithFields(log.Fields{
		"assessment": a.ID,
		"client":     clientID,
		"target":     target,
		"phases":     phases,
	}).Info("Assessment started")

	return a.ID, nil
}

// Stop requests a cooperative stop of the client's active assessment.
// The current phase finishes; remaining phases are skipped. No-op when
// the client has nothing running.
func (o *Orchestrator) Stop(clientID string) {
	o.mu.Lock()
	r := o.byClient[clientID]
	o.mu.Unlock()
	if r == nil {
		return
	}
	log.WithFields(log.Fields{"assessment": r.id, "client": clientID}).Info("Stop requested")
	r.stop()
}

// Pause suspends the client's active assessment at the next phase
// boundary. The in-flight phase is never interrupted.
func (o *Orchestrator) Pause(clientID string) error {
	o.mu.Lock()
	r := o.byClient[clientID]
	o.mu.Unlock()
	if r == nil {
		return domain.ErrNotFound
	}
	r.pause()
	if err := o.store.UpdateStatus(r.id, domain.StatusUpdate{Status: entity.StatusPaused}); err != nil {
		return err
	}
	log.WithFields(log.Fields{"assessment": r.id, "client": clientID}).Info("Assessment paused")
	return nil
}

// Resume re-enters the phase loop at the current phase.
func (o *Orchestrator) Resume(clientID string) error {
	o.mu.Lock()
	r := o.byClient[clientID]
	o.mu.Unlock()
	if r == nil {
		return domain.ErrNotFound
	}
	if err := o.store.UpdateStatus(r.id, domain.StatusUpdate{Status: entity.StatusRunning}); err != nil {
		return err
	}
	r.resume()
	log.WithFields(log.Fields{"assessment": r.id, "client": clientID}).Info("Assessment resumed")
	return nil
}

// GetStatus returns a snapshot of the assessment record.
func (o *Orchestrator) GetStatus(assessmentID string) (*entity.Assessment, error) {
	return o.store.Get(assessmentID)
}

// ActiveForClient returns the client's running or paused assessment, or
// ErrNotFound.
func (o *Orchestrator) ActiveForClient(clientID string) (*entity.Assessment, error) {
	active, err := o.store.ListActive(clientID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, domain.ErrNotFound
	}
	return active[0], nil
}

// RecoverInterrupted marks store records left running or paused by a
// previous process as errored. Called once at startup, before any new
// assessment can start.
func (o *Orchestrator) RecoverInterrupted() error {
	active, err := o.store.ListActive("")
	if err != nil {
		return err
	}
	for _, a := range active {
		now := time.Now().UTC()
		empty := ""
		err := o.store.UpdateStatus(a.ID, domain.StatusUpdate{
			Status:       entity.StatusError,
			CurrentPhase: &empty,
			Error:        &entity.Failure{Phase: a.CurrentPhase, Message: "interrupted by restart", Kind: entity.FailureKindInternal},
			EndTime:      &now,
		})
		if err != nil {
			return err
		}
		log.WithField("assessment", a.ID).Warn("Marked interrupted assessment as errored")
	}
	return nil
}

// Shutdown stops every in-flight assessment and waits for their
// goroutines to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, r := range o.runs {
		r.stop()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute drives one assessment through its phases in order. It is the
// single writer of the record's status, current_phase and results while
// the assessment is live.
func (o *Orchestrator) execute(r *run, a *entity.Assessment) {
	defer o.wg.Done()
	defer o.unregister(r)

	l := log.WithFields(log.Fields{"assessment": a.ID, "client": a.ClientID, "target": a.Target})

	o.publish(a.ClientID, domain.NewEvent(domain.EventAssessmentStarted, a.ID, map[string]any{
		"target": a.Target,
		"phases": a.Phases,
	}))

	if err := o.store.UpdateStatus(a.ID, domain.StatusUpdate{Status: entity.StatusRunning}); err != nil {
		o.failStore(l, a, "", err)
		return
	}

	results := make(map[string]any, len(a.Phases))

	for _, phase := range a.Phases {
		if r.checkpoint() {
			o.finalizeStopped(l, a)
			return
		}

		if err := o.store.UpdateStatus(a.ID, domain.StatusUpdate{Status: entity.StatusRunning, CurrentPhase: &phase}); err != nil {
			o.failStore(l, a, phase, err)
			return
		}

		o.publish(a.ClientID, domain.NewEvent(domain.EventPhaseStarted, a.ID, map[string]any{
			"phase": phase,
		}))

		started := time.Now().UTC()
		payload, err := o.invoke(a, phase)
		finished := time.Now().UTC()

		if err != nil {
			o.failPhase(l, a, phase, started, finished, err)
			return
		}

		rep := entity.PhaseReport{Phase: phase, Data: payload, StartedAt: started, FinishedAt: finished}
		if serr := o.store.UpdateStatus(a.ID, domain.StatusUpdate{Result: &rep}); serr != nil {
			o.failStore(l, a, phase, serr)
			return
		}
		results[phase] = payload

		o.publish(a.ClientID, domain.NewEvent(domain.EventPhaseCompleted, a.ID, map[string]any{
			"phase":   phase,
			"results": payload,
		}))

		l.WithFields(log.Fields{"phase": phase, "duration": finished.Sub(started)}).Info("Phase completed")
	}

	now := time.Now().UTC()
	empty := ""
	if err := o.store.UpdateStatus(a.ID, domain.StatusUpdate{
		Status:       entity.StatusCompleted,
		CurrentPhase: &empty,
		EndTime:      &now,
	}); err != nil {
		o.failStore(l, a, "", err)
		return
	}

	o.publish(a.ClientID, domain.NewEvent(domain.EventAssessmentCompleted, a.ID, map[string]any{
		"results": results,
	}))
	l.Info("Assessment completed")
}

// invoke runs the phase executor with its timeout and converts panics
// into internal errors so one misbehaving adapter cannot kill the
// process.
func (o *Orchestrator) invoke(a *entity.Assessment, phase string) (payload map[string]any, err error) {
	exec, ok := o.registry.Lookup(phase)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPhase, phase)
	}

	defer func() {
		if p := recover(); p != nil {
			payload = nil
			err = fmt.Errorf("executor panic: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.config.PhaseTimeout)
	defer cancel()

	opts := domain.PhaseOptions{
		AssessmentID: a.ID,
		ClientID:     a.ClientID,
		Timeout:      o.config.PhaseTimeout,
		Params:       o.config.PhaseParams[phase],
		Progress:     o.progressFunc(a, phase),
	}
	return exec.Execute(ctx, a.Target, opts)
}

func (o *Orchestrator) progressFunc(a *entity.Assessment, phase string) domain.ProgressFunc {
	return func(update map[string]any) {
		o.publish(a.ClientID, domain.NewEvent(domain.EventAgentUpdate, a.ID, map[string]any{
			"agent": phase,
			"data":  update,
		}))
	}
}

// failPhase records a phase failure, halts the remaining phases and ends
// the assessment in error. A reported *PhaseError and an executor crash
// are distinguishable by the recorded failure kind.
func (o *Orchestrator) failPhase(l *log.Entry, a *entity.Assessment, phase string, started, finished time.Time, err error) {
	kind := entity.FailureKindInternal
	message := "internal error: " + err.Error()
	var pe *domain.PhaseError
	if errors.As(err, &pe) {
		kind = entity.FailureKindPhase
		message = pe.Reason
	}

	now := time.Now().UTC()
	empty := ""
	rep := entity.PhaseReport{
		Phase:      phase,
		Error:      &entity.PhaseError{Kind: kind, Message: message},
		StartedAt:  started,
		FinishedAt: finished,
	}
	serr := o.store.UpdateStatus(a.ID, domain.StatusUpdate{
		Status:       entity.StatusError,
		CurrentPhase: &empty,
		Result:       &rep,
		Error:        &entity.Failure{Phase: phase, Message: message, Kind: kind},
		EndTime:      &now,
	})
	if serr != nil {
		l.WithError(serr).Error("Failed to record phase failure")
	}

	o.publish(a.ClientID, domain.NewEvent(domain.EventPhaseError, a.ID, map[string]any{
		"phase": phase,
		"error": message,
	}))
	o.publish(a.ClientID, domain.NewEvent(domain.EventAssessmentError, a.ID, map[string]any{
		"phase": phase,
		"error": message,
	}))

	l.WithFields(log.Fields{"phase": phase, "kind": kind}).WithError(err).Error("Phase failed, halting assessment")
}

// failStore handles a store write failure mid-run: the orchestrator must
// not continue with state it can no longer persist.
func (o *Orchestrator) failStore(l *log.Entry, a *entity.Assessment, phase string, err error) {
	l.WithError(err).WithField("phase", phase).Error("Store write failed, aborting assessment")

	now := time.Now().UTC()
	empty := ""
	message := "store failure: " + err.Error()
	// Best effort; the store may still be broken.
	_ = o.store.UpdateStatus(a.ID, domain.StatusUpdate{
		Status:       entity.StatusError,
		CurrentPhase: &empty,
		Error:        &entity.Failure{Phase: phase, Message: message, Kind: entity.FailureKindInternal},
		EndTime:      &now,
	})

	o.publish(a.ClientID, domain.NewEvent(domain.EventAssessmentError, a.ID, map[string]any{
		"phase": phase,
		"error": message,
	}))
}

func (o *Orchestrator) finalizeStopped(l *log.Entry, a *entity.Assessment) {
	now := time.Now().UTC()
	empty := ""
	if err := o.store.UpdateStatus(a.ID, domain.StatusUpdate{
		Status:       entity.StatusStopped,
		CurrentPhase: &empty,
		EndTime:      &now,
	}); err != nil {
		l.WithError(err).Error("Failed to record stopped status")
	}
	l.Info("Assessment stopped")
}

func (o *Orchestrator) unregister(r *run) {
	o.mu.Lock()
	delete(o.runs, r.id)
	if o.byClient[r.clientID] == r {
		delete(o.byClient, r.clientID)
	}
	o.mu.Unlock()
}

// publish delivers an event best-effort. Transport failures are logged
// and never reach the phase loop.
func (o *Orchestrator) publish(clientID string, ev domain.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(clientID, ev); err != nil {
		log.WithFields(log.Fields{"client": clientID, "event": ev.Type}).WithError(err).Warn("Event delivery failed")
	}
}

func validateTarget(target string) error {
	if len(target) < 3 {
		return domain.ErrInvalidTarget
	}
	if strings.ContainsAny(target, " \t\r\n") || strings.Contains(target, "://") {
		return domain.ErrInvalidTarget
	}
	return nil
}
