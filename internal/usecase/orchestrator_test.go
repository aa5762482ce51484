package usecase

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/adapter/memstore"
	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

func init() {
	log.SetOutput(io.Discard)
}

// fakeExecutor runs a scripted function and counts invocations. When
// gate is set, Execute blocks until the gate channel is closed.
type fakeExecutor struct {
	name string
	fn   func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error)
	gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) Execute(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(ctx, target, opts)
	}
	return map[string]any{"phase": f.name}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRegistry map[string]domain.PhaseExecutor

func (r fakeRegistry) Lookup(phase string) (domain.PhaseExecutor, bool) {
	e, ok := r[phase]
	return e, ok
}

func (r fakeRegistry) Names() []string {
	var names []string
	for n := range r {
		names = append(names, n)
	}
	return names
}

// capturingPublisher records every published event in order.
type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturingPublisher) Publish(clientID string, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *capturingPublisher) waitFor(t *testing.T, kind string) domain.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		for _, ev := range p.events {
			if ev.Type == kind {
				p.mu.Unlock()
				return ev
			}
		}
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event, got %v", kind, p.types())
	return domain.Event{}
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *entity.Assessment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, err := o.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus() returned error: %v", err)
		}
		if a.Status.Terminal() {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("assessment %s never reached a terminal status", id)
	return nil
}

func waitStatus(t *testing.T, o *Orchestrator, id string, want entity.Status) *entity.Assessment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, err := o.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus() returned error: %v", err)
		}
		if a.Status == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("assessment %s never reached status %s", id, want)
	return nil
}

func TestStartRunsAllPhasesInOrder(t *testing.T) {
	t.Parallel()

	reconExec := &fakeExecutor{name: "recon", fn: func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
		return map[string]any{"subdomains": []string{"a.example.com"}}, nil
	}}
	scanExec := &fakeExecutor{name: "scan", fn: func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
		return map[string]any{"open_ports": []int{80, 443}}, nil
	}}

	pub := &capturingPublisher{}
	o := NewOrchestrator(memstore.New(), pub, fakeRegistry{"recon": reconExec, "scan": scanExec}, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"recon", "scan"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	a := waitTerminal(t, o, id)
	if a.Status != entity.StatusCompleted {
		t.Fatalf("expected status completed, got %s", a.Status)
	}
	if a.CurrentPhase != "" {
		t.Errorf("expected empty current_phase, got %q", a.CurrentPhase)
	}
	if a.EndTime == nil {
		t.Error("expected end_time to be set")
	}
	if len(a.Results) != 2 {
		t.Fatalf("expected 2 phase results, got %d", len(a.Results))
	}
	if a.Results["recon"].Failed() || a.Results["scan"].Failed() {
		t.Error("no phase should have failed")
	}

	pub.waitFor(t, domain.EventAssessmentCompleted)
	want := []string{
		domain.EventAssessmentStarted,
		domain.EventPhaseStarted,
		domain.EventPhaseCompleted,
		domain.EventPhaseStarted,
		domain.EventPhaseCompleted,
		domain.EventAssessmentCompleted,
	}
	if got := pub.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("event order mismatch:\n got  %v\n want %v", got, want)
	}
}

func TestStartRejectsInvalidTargets(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	o := NewOrchestrator(store, &capturingPublisher{}, fakeRegistry{"recon": &fakeExecutor{name: "recon"}}, DefaultConfig())

	for _, target := range []string{"", "ab", "  x ", "two words", "http://example.com"} {
		if _, err := o.Start(target, "clientA", []string{"recon"}); !errors.Is(err, domain.ErrInvalidTarget) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidTarget", target, err)
		}
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("no record should exist after rejected starts, got %d", len(records))
	}
}

func TestStartRejectsUnknownPhase(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(memstore.New(), &capturingPublisher{}, fakeRegistry{"recon": &fakeExecutor{name: "recon"}}, DefaultConfig())
	if _, err := o.Start("example.com", "clientA", []string{"recon", "bogus"}); !errors.Is(err, domain.ErrUnknownPhase) {
		t.Fatalf("Start() error = %v, want ErrUnknownPhase", err)
	}
}

func TestConcurrencyLimitPerClient(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	exec := &fakeExecutor{name: "recon", gate: gate}
	o := NewOrchestrator(memstore.New(), &capturingPublisher{}, fakeRegistry{"recon": exec}, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"recon"})
	if err != nil {
		t.Fatalf("first Start() returned error: %v", err)
	}

	if _, err := o.Start("example.org", "clientA", []string{"recon"}); !errors.Is(err, domain.ErrConcurrencyLimit) {
		t.Fatalf("second Start() error = %v, want ErrConcurrencyLimit", err)
	}

	// A different client is not affected.
	if _, err := o.Start("example.org", "clientB", []string{"recon"}); err != nil {
		t.Fatalf("Start() for other client returned error: %v", err)
	}

	close(gate)
	waitTerminal(t, o, id)

	// The run goroutine releases the client slot right after the record
	// turns terminal, so allow a brief window for that handoff.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := o.Start("example.net", "clientA", []string{"recon"})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrencyLimit) {
			t.Fatalf("Start() after terminal status returned error: %v", err)
		}
		if !time.Now().Before(deadline) {
			t.Fatal("client slot never released after terminal status")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopSkipsRemainingPhases(t *testing.T) {
	t.Parallel()

	phase1 := &fakeExecutor{name: "p1"}
	gate := make(chan struct{})
	phase2 := &fakeExecutor{name: "p2", gate: gate}
	phase3 := &fakeExecutor{name: "p3"}
	phase4 := &fakeExecutor{name: "p4"}
	reg := fakeRegistry{"p1": phase1, "p2": phase2, "p3": phase3, "p4": phase4}

	pub := &capturingPublisher{}
	o := NewOrchestrator(memstore.New(), pub, reg, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"p1", "p2", "p3", "p4"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	// Wait until phase 2 is in flight, then request a stop.
	deadline := time.Now().Add(5 * time.Second)
	for phase2.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if phase2.callCount() == 0 {
		t.Fatal("phase 2 never started")
	}
	o.Stop("clientA")
	close(gate)

	a := waitTerminal(t, o, id)
	if a.Status != entity.StatusStopped {
		t.Fatalf("expected status stopped, got %s", a.Status)
	}
	if len(a.Results) != 2 {
		t.Fatalf("expected results for phases 1-2 only, got %d entries", len(a.Results))
	}
	if phase3.callCount() != 0 || phase4.callCount() != 0 {
		t.Error("phases 3-4 must never execute after stop")
	}
}

func TestPauseHaltsUntilResume(t *testing.T) {
	t.Parallel()

	phase1 := &fakeExecutor{name: "p1"}
	gate := make(chan struct{})
	phase2 := &fakeExecutor{name: "p2", gate: gate}
	phase3 := &fakeExecutor{name: "p3"}
	reg := fakeRegistry{"p1": phase1, "p2": phase2, "p3": phase3}

	pub := &capturingPublisher{}
	o := NewOrchestrator(memstore.New(), pub, reg, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for phase2.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Pause("clientA"); err != nil {
		t.Fatalf("Pause() returned error: %v", err)
	}
	waitStatus(t, o, id, entity.StatusPaused)

	// Phase 2 was already in flight; it finishes, then the loop must
	// suspend before phase 3.
	close(gate)
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, err := o.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus() returned error: %v", err)
		}
		if _, done := a.Results["p2"]; done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if phase3.callCount() != 0 {
		t.Fatal("phase 3 must not start while paused")
	}
	a, err := o.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() returned error: %v", err)
	}
	if a.Status != entity.StatusPaused {
		t.Fatalf("expected status paused, got %s", a.Status)
	}

	if err := o.Resume("clientA"); err != nil {
		t.Fatalf("Resume() returned error: %v", err)
	}
	a = waitTerminal(t, o, id)
	if a.Status != entity.StatusCompleted {
		t.Fatalf("expected status completed after resume, got %s", a.Status)
	}
	if phase3.callCount() != 1 {
		t.Errorf("phase 3 should run exactly once after resume, ran %d times", phase3.callCount())
	}
}

func TestPhaseFailureHaltsAndRecordsError(t *testing.T) {
	t.Parallel()

	phase1 := &fakeExecutor{name: "p1"}
	phase2 := &fakeExecutor{name: "p2", fn: func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
		return nil, domain.NewPhaseError("p2", "tool reported failure")
	}}
	phase3 := &fakeExecutor{name: "p3"}
	phase4 := &fakeExecutor{name: "p4"}
	reg := fakeRegistry{"p1": phase1, "p2": phase2, "p3": phase3, "p4": phase4}

	pub := &capturingPublisher{}
	o := NewOrchestrator(memstore.New(), pub, reg, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"p1", "p2", "p3", "p4"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	a := waitTerminal(t, o, id)
	if a.Status != entity.StatusError {
		t.Fatalf("expected status error, got %s", a.Status)
	}
	if a.Error == nil || a.Error.Phase != "p2" {
		t.Fatalf("expected error.phase = p2, got %+v", a.Error)
	}
	if a.Error.Kind != entity.FailureKindPhase {
		t.Errorf("expected reported failure kind, got %q", a.Error.Kind)
	}
	if len(a.Results) != 2 {
		t.Fatalf("expected results for phases 1-2, got %d entries", len(a.Results))
	}
	if a.Results["p1"].Failed() {
		t.Error("phase 1 result must not be marked failed")
	}
	rep := a.Results["p2"]
	if !rep.Failed() || rep.Error.Kind != entity.FailureKindPhase {
		t.Errorf("phase 2 must carry a reported error entry, got %+v", rep.Error)
	}
	if phase3.callCount() != 0 || phase4.callCount() != 0 {
		t.Error("phases 3-4 must never execute after a failure")
	}

	pub.waitFor(t, domain.EventAssessmentError)
	for _, kind := range pub.types() {
		if kind == domain.EventAssessmentCompleted {
			t.Error("assessment_completed must not be emitted after a failure")
		}
	}
}

func TestExecutorPanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{name: "recon", fn: func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
		panic("executor bug")
	}}
	o := NewOrchestrator(memstore.New(), &capturingPublisher{}, fakeRegistry{"recon": exec}, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"recon"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	a := waitTerminal(t, o, id)
	if a.Status != entity.StatusError {
		t.Fatalf("expected status error, got %s", a.Status)
	}
	if a.Error == nil || a.Error.Kind != entity.FailureKindInternal {
		t.Fatalf("expected internal failure kind, got %+v", a.Error)
	}
	if rep := a.Results["recon"]; !rep.Failed() || rep.Error.Kind != entity.FailureKindInternal {
		t.Errorf("phase entry must record an internal error, got %+v", rep.Error)
	}
}

func TestGetStatusIsIdempotent(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(memstore.New(), &capturingPublisher{}, fakeRegistry{"recon": &fakeExecutor{name: "recon"}}, DefaultConfig())
	id, err := o.Start("example.com", "clientA", []string{"recon"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	waitTerminal(t, o, id)

	first, err := o.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() returned error: %v", err)
	}
	// Mutating the snapshot must not leak back into the store.
	first.Results["injected"] = entity.PhaseReport{Phase: "injected"}
	first.Status = entity.StatusRunning

	second, err := o.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() returned error: %v", err)
	}
	if second.Status != entity.StatusCompleted {
		t.Errorf("snapshot mutation leaked into the store: status %s", second.Status)
	}
	if _, ok := second.Results["injected"]; ok {
		t.Error("snapshot mutation leaked into stored results")
	}
}

// failingStore wraps a real store and fails result-append writes.
type failingStore struct {
	domain.AssessmentStore
}

func (s *failingStore) UpdateStatus(id string, upd domain.StatusUpdate) error {
	if upd.Result != nil {
		return &domain.StoreError{Op: "update", ID: id, Err: errors.New("disk full")}
	}
	return s.AssessmentStore.UpdateStatus(id, upd)
}

func TestStoreWriteFailureAbortsAssessment(t *testing.T) {
	t.Parallel()

	pub := &capturingPublisher{}
	store := &failingStore{AssessmentStore: memstore.New()}
	o := NewOrchestrator(store, pub, fakeRegistry{"recon": &fakeExecutor{name: "recon"}}, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"recon"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	a := waitTerminal(t, o, id)
	if a.Status != entity.StatusError {
		t.Fatalf("expected status error after store failure, got %s", a.Status)
	}
	pub.waitFor(t, domain.EventAssessmentError)
}

func TestRecoverInterrupted(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	now := time.Now().UTC()
	stale := &entity.Assessment{
		ID:           "stale",
		Target:       "example.com",
		ClientID:     "clientA",
		Status:       entity.StatusRunning,
		CurrentPhase: "scan",
		Phases:       []string{"recon", "scan"},
		Results:      map[string]entity.PhaseReport{},
		StartTime:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Create(stale); err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	o := NewOrchestrator(store, &capturingPublisher{}, fakeRegistry{"recon": &fakeExecutor{name: "recon"}}, DefaultConfig())
	if err := o.RecoverInterrupted(); err != nil {
		t.Fatalf("RecoverInterrupted() returned error: %v", err)
	}

	a, err := store.Get("stale")
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if a.Status != entity.StatusError {
		t.Fatalf("expected interrupted record marked error, got %s", a.Status)
	}
	if a.Error == nil || a.Error.Phase != "scan" {
		t.Errorf("expected error.phase = scan, got %+v", a.Error)
	}

	// The client's slot is free again.
	if _, err := o.Start("example.com", "clientA", []string{"recon"}); err != nil {
		t.Fatalf("Start() after recovery returned error: %v", err)
	}
}

func TestControlOpsWithoutActiveAssessment(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(memstore.New(), &capturingPublisher{}, fakeRegistry{}, DefaultConfig())

	o.Stop("nobody") // must not panic, explicit no-op

	if err := o.Pause("nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Pause() error = %v, want ErrNotFound", err)
	}
	if err := o.Resume("nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Resume() error = %v, want ErrNotFound", err)
	}
	if _, err := o.GetStatus("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetStatus() error = %v, want ErrNotFound", err)
	}
}

func TestProgressUpdatesAreForwarded(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{name: "recon", fn: func(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
		opts.Progress(map[string]any{"status": "working"})
		return map[string]any{}, nil
	}}
	pub := &capturingPublisher{}
	o := NewOrchestrator(memstore.New(), pub, fakeRegistry{"recon": exec}, DefaultConfig())

	id, err := o.Start("example.com", "clientA", []string{"recon"})
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	waitTerminal(t, o, id)

	ev := pub.waitFor(t, domain.EventAgentUpdate)
	if ev.Payload["agent"] != "recon" {
		t.Errorf("expected agent_update for recon, got %v", ev.Payload)
	}
}
