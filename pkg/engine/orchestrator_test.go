package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// In-memory collaborators shared by the orchestrator and runner tests.

type memStateStore struct {
	state    *ExecutionState
	loadErr  error
	markErr  error
	resetErr error
	marks    []int
	resets   int
}

func newMemStateStore(completed ...int) *memStateStore {
	state := NewExecutionState()
	for _, ordinal := range completed {
		state.MarkComplete(ordinal)
	}
	return &memStateStore{state: state}
}

func (m *memStateStore) Load(ctx context.Context) (*ExecutionState, error) {
	if m.loadErr != nil {
		return NewExecutionState(), m.loadErr
	}
	return m.state.Clone(), nil
}

func (m *memStateStore) MarkComplete(ctx context.Context, ordinal int) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.state.MarkComplete(ordinal)
	m.marks = append(m.marks, ordinal)
	return nil
}

func (m *memStateStore) IsComplete(ctx context.Context, ordinal int) (bool, error) {
	return m.state.IsComplete(ordinal), nil
}

func (m *memStateStore) Reset(ctx context.Context) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.state = NewExecutionState()
	m.resets++
	return nil
}

type fakeSnapshotter struct {
	snapCalls int
	snapErr   error
	revertErr error
	reverted  []string
	lastLabel string
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, label string) (string, error) {
	if f.snapErr != nil {
		return "", f.snapErr
	}
	f.snapCalls++
	f.lastLabel = label
	return fmt.Sprintf("snap-%d", f.snapCalls), nil
}

func (f *fakeSnapshotter) Revert(ctx context.Context, ref string) error {
	if f.revertErr != nil {
		return f.revertErr
	}
	f.reverted = append(f.reverted, ref)
	return nil
}

type memRollbackStore struct {
	point   *RollbackPoint
	saveErr error
	loadErr error
}

func (m *memRollbackStore) SavePoint(ctx context.Context, point *RollbackPoint) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.point = point
	return nil
}

func (m *memRollbackStore) LoadPoint(ctx context.Context) (*RollbackPoint, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.point, nil
}

type memJournal struct {
	runs     []*RunRecord
	finishes map[string]RunStatus
	events   []*PhaseEvent
}

func newMemJournal() *memJournal {
	return &memJournal{finishes: make(map[string]RunStatus)}
}

func (m *memJournal) StartRun(ctx context.Context, rec *RunRecord) error {
	m.runs = append(m.runs, rec)
	return nil
}

func (m *memJournal) FinishRun(ctx context.Context, runID string, status RunStatus, errMsg string) error {
	m.finishes[runID] = status
	return nil
}

func (m *memJournal) RecordPhaseEvent(ctx context.Context, ev *PhaseEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memJournal) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	return m.runs, nil
}

func (m *memJournal) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	for _, rec := range m.runs {
		if rec.ID == runID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

func (m *memJournal) ListPhaseEvents(ctx context.Context, runID string) ([]*PhaseEvent, error) {
	return m.events, nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) actionCount(action PhaseEventAction) int {
	count := 0
	for _, ev := range m.events {
		if ev.Action == action {
			count++
		}
	}
	return count
}

// scriptedDecider returns canned decisions in order and aborts once the
// script runs out.
type scriptedDecider struct {
	decisions []Decision
	calls     int
}

func (s *scriptedDecider) Decide(ctx context.Context, failure *PhaseFailure) (Decision, error) {
	s.calls++
	if len(s.decisions) == 0 {
		return DecisionAbort, nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

// chainCatalog builds n phases where each depends on its predecessor. The
// listed ordinals are marked safe restart points.
func chainCatalog(t *testing.T, n int, safe ...int) *Registry {
	t.Helper()
	safeSet := make(map[int]bool, len(safe))
	for _, ordinal := range safe {
		safeSet[ordinal] = true
	}
	phases := make([]Phase, 0, n)
	for i := 1; i <= n; i++ {
		p := Phase{
			Ordinal:          i,
			Name:             fmt.Sprintf("step-%d", i),
			Description:      fmt.Sprintf("test step %d", i),
			SafeRestartPoint: safeSet[i],
		}
		if i > 1 {
			p.Dependencies = []int{i - 1}
		}
		phases = append(phases, p)
	}
	registry, err := NewRegistry(phases)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

// execRecorder builds implementations that count invocations.
type execRecorder struct {
	invocations map[int]int
	order       []int
}

func newExecRecorder() *execRecorder {
	return &execRecorder{invocations: make(map[int]int)}
}

func (r *execRecorder) record(ordinal int) {
	r.invocations[ordinal]++
	r.order = append(r.order, ordinal)
}

func (r *execRecorder) succeed(ordinal int) Implementation {
	return ImplementationFunc(func(ctx context.Context, ec *ExecContext) error {
		r.record(ordinal)
		return nil
	})
}

func (r *execRecorder) fail(ordinal, code int) Implementation {
	return ImplementationFunc(func(ctx context.Context, ec *ExecContext) error {
		r.record(ordinal)
		return &ExitError{Code: code, Message: "injected failure"}
	})
}

// failTimes fails the first `times` invocations, then succeeds.
func (r *execRecorder) failTimes(ordinal, times, code int) Implementation {
	return ImplementationFunc(func(ctx context.Context, ec *ExecContext) error {
		r.record(ordinal)
		if r.invocations[ordinal] <= times {
			return &ExitError{Code: code, Message: "transient failure"}
		}
		return nil
	})
}

func (r *execRecorder) impls(n int) map[int]Implementation {
	impls := make(map[int]Implementation, n)
	for i := 1; i <= n; i++ {
		impls[i] = r.succeed(i)
	}
	return impls
}

func mustOrchestrator(t *testing.T, opts OrchestratorOptions) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch
}

func TestOrchestratorFirstRunExecutesAllPhases(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore()
	snapper := &fakeSnapshotter{}
	rbStore := &memRollbackStore{}

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Rollback:        NewRollbackManager(rbStore, snapper),
		Decider:         &scriptedDecider{},
	})
	if orch.Mode() != ModeResume {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeResume)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}
	if report.StartPhase != 1 {
		t.Errorf("StartPhase = %d, want 1", report.StartPhase)
	}
	if len(recorder.order) != 5 {
		t.Errorf("executed %d phases, want 5: %v", len(recorder.order), recorder.order)
	}
	if len(report.CompletedPhases) != 5 {
		t.Errorf("CompletedPhases = %v, want 5 entries", report.CompletedPhases)
	}
	if report.Summary.Succeeded != 5 || report.Summary.Failed != 0 {
		t.Errorf("Summary = %+v, want 5 succeeded", report.Summary)
	}

	// The first run of the workflow captures the pre-deployment snapshot.
	if snapper.snapCalls != 1 {
		t.Errorf("snapshot calls = %d, want 1", snapper.snapCalls)
	}
	if report.RollbackPoint == nil || report.RollbackPoint.SnapshotReference != "snap-1" {
		t.Errorf("RollbackPoint = %+v, want snap-1", report.RollbackPoint)
	}
}

func TestOrchestratorResumeSkipsCompletedPhases(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2)
	snapper := &fakeSnapshotter{}

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Rollback:        NewRollbackManager(&memRollbackStore{}, snapper),
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.StartPhase != 3 {
		t.Errorf("StartPhase = %d, want 3", report.StartPhase)
	}
	want := []int{3, 4, 5}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}

	// Resuming a partially complete workflow keeps the original rollback
	// point: no new snapshot is taken.
	if snapper.snapCalls != 0 {
		t.Errorf("snapshot calls = %d, want 0", snapper.snapCalls)
	}
}

func TestOrchestratorResumeWithEverythingCompleteIsAnError(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3)

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	_, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want nothing-to-do error")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeNothingToDo {
		t.Fatalf("error = %v, want code %s", err, ErrCodeNothingToDo)
	}
	if !strings.Contains(err.Error(), "--force-update") {
		t.Errorf("error %q should point at --force-update", err)
	}
	if len(recorder.order) != 0 {
		t.Errorf("executed %v, want nothing", recorder.order)
	}
}

func TestOrchestratorForceUpdateRedoesEverything(t *testing.T) {
	registry := chainCatalog(t, 4)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3, 4)
	snapper := &fakeSnapshotter{}

	cfg := DefaultRunConfig()
	cfg.ForceUpdate = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(4),
		Store:           store,
		Rollback:        NewRollbackManager(&memRollbackStore{}, snapper),
		Decider:         &scriptedDecider{},
	})
	if orch.Mode() != ModeFresh {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeFresh)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.Summary.AlreadyComplete != 0 {
		t.Errorf("AlreadyComplete = %d, want 0", report.Summary.AlreadyComplete)
	}
	if snapper.snapCalls != 1 {
		t.Errorf("snapshot calls = %d, want 1", snapper.snapCalls)
	}
}

func TestOrchestratorExplicitStartHonorsCompletion(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2)

	cfg := DefaultRunConfig()
	cfg.StartFromPhase = 2

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Decider:         &scriptedDecider{},
	})
	if orch.Mode() != ModeExplicitStart {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeExplicitStart)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Phase 2 is recorded complete, so the explicit start passes over it.
	want := []int{3, 4, 5}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.Summary.AlreadyComplete != 1 {
		t.Errorf("AlreadyComplete = %d, want 1", report.Summary.AlreadyComplete)
	}
}

func TestOrchestratorExplicitStartFailsOnMissingDependencies(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	decider := &scriptedDecider{}

	cfg := DefaultRunConfig()
	cfg.StartFromPhase = 3

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           newMemStateStore(),
		Decider:         decider,
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want dependency error")
	}
	if !IsDependencyError(err) {
		t.Fatalf("error = %v, want dependency class", err)
	}
	if got := ExitCode(err); got != ExitDependency {
		t.Errorf("ExitCode = %d, want %d", got, ExitDependency)
	}
	if report.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", report.Status, StatusFailed)
	}
	if len(recorder.order) != 0 {
		t.Errorf("executed %v, want nothing", recorder.order)
	}

	// Dependency violations are not an operator choice: the menu never
	// appears.
	if decider.calls != 0 {
		t.Errorf("decider consulted %d times, want 0", decider.calls)
	}
}

func TestOrchestratorRestartForcesCompletedPhase(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3)

	cfg := DefaultRunConfig()
	cfg.RestartPhase = 2

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Decider:         &scriptedDecider{},
	})
	if orch.Mode() != ModeRestart {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeRestart)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Phase 2 re-executes despite being recorded complete; phase 3 is
	// still honored as complete.
	want := []int{2, 4, 5}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.Summary.AlreadyComplete != 1 {
		t.Errorf("AlreadyComplete = %d, want 1", report.Summary.AlreadyComplete)
	}
}

func TestOrchestratorSkipContinuesPastIndependentPhases(t *testing.T) {
	phases := []Phase{
		{Ordinal: 1, Name: "first", Description: "first step"},
		{Ordinal: 2, Name: "second", Description: "second step", Dependencies: []int{1}},
		{Ordinal: 3, Name: "third", Description: "independent step"},
	}
	registry, err := NewRegistry(phases)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	recorder := newExecRecorder()
	store := newMemStateStore()
	journal := newMemJournal()

	cfg := DefaultRunConfig()
	cfg.SkipPhases = []int{2}

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           store,
		Journal:         journal,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}
	want := []int{1, 3}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.Summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Summary.Skipped)
	}

	// A skipped phase is never marked complete.
	if store.state.IsComplete(2) {
		t.Error("phase 2 recorded complete after an explicit skip")
	}
	if journal.actionCount(PhaseActionSkipped) != 1 {
		t.Errorf("journaled %d skip events, want 1", journal.actionCount(PhaseActionSkipped))
	}
}

func TestOrchestratorSkipBlocksDependentPhases(t *testing.T) {
	registry := chainCatalog(t, 4)
	recorder := newExecRecorder()

	cfg := DefaultRunConfig()
	cfg.SkipPhases = []int{2}

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(4),
		Store:           newMemStateStore(),
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want dependency error at phase 3")
	}
	if !IsDependencyError(err) {
		t.Fatalf("error = %v, want dependency class", err)
	}
	if missing := MissingDependencies(err); fmt.Sprint(missing) != "[2]" {
		t.Errorf("missing dependencies = %v, want [2]", missing)
	}
	if report.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", report.Status, StatusFailed)
	}

	// Phase 1 ran, phase 2 was skipped, phase 3 failed validation before
	// its implementation was invoked.
	want := []int{1}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
}

func TestOrchestratorRetryDecisionReinvokesPhase(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	journal := newMemJournal()

	impls := recorder.impls(3)
	impls[2] = recorder.failTimes(2, 2, 12)

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
		Journal:         journal,
		Decider:         &scriptedDecider{decisions: []Decision{DecisionRetry, DecisionRetry}},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}
	if recorder.invocations[2] != 3 {
		t.Errorf("phase 2 invoked %d times, want 3", recorder.invocations[2])
	}

	var phase2 *PhaseResult
	for _, result := range report.Results {
		if result.Ordinal == 2 {
			phase2 = result
		}
	}
	if phase2 == nil || phase2.Attempts != 3 {
		t.Fatalf("phase 2 result = %+v, want 3 attempts", phase2)
	}
	if phase2.Status != PhaseSucceeded {
		t.Errorf("phase 2 status = %s, want %s", phase2.Status, PhaseSucceeded)
	}
	if journal.actionCount(PhaseActionRetried) != 2 {
		t.Errorf("journaled %d retry events, want 2", journal.actionCount(PhaseActionRetried))
	}
}

func TestOrchestratorPolicyRetryExhaustionAborts(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()

	impls := recorder.impls(3)
	impls[2] = recorder.fail(2, 12)

	cfg := DefaultRunConfig()
	cfg.OnFailure = PolicyRetry
	cfg.MaxRetries = 1
	cfg.NonInteractive = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want abort after retry budget")
	}
	if !IsAbortedError(err) {
		t.Fatalf("error = %v, want aborted class", err)
	}
	if recorder.invocations[2] != 2 {
		t.Errorf("phase 2 invoked %d times, want 2 (1 try + 1 retry)", recorder.invocations[2])
	}
	if report.Status != StatusAborted {
		t.Errorf("Status = %s, want %s", report.Status, StatusAborted)
	}
	if got := ExitCode(err); got != ExitAborted {
		t.Errorf("ExitCode = %d, want %d", got, ExitAborted)
	}
}

func TestOrchestratorSkipDecisionLeavesPhaseIncomplete(t *testing.T) {
	phases := []Phase{
		{Ordinal: 1, Name: "first", Description: "first step"},
		{Ordinal: 2, Name: "second", Description: "flaky step"},
		{Ordinal: 3, Name: "third", Description: "independent step"},
	}
	registry, err := NewRegistry(phases)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	recorder := newExecRecorder()
	store := newMemStateStore()
	impls := recorder.impls(3)
	impls[2] = recorder.fail(2, 7)

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: impls,
		Store:           store,
		Decider:         &scriptedDecider{decisions: []Decision{DecisionSkip}},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}
	if store.state.IsComplete(2) {
		t.Error("phase 2 recorded complete after a skip decision")
	}
	if report.Summary.Skipped != 1 || report.Summary.Succeeded != 2 {
		t.Errorf("Summary = %+v, want 1 skipped and 2 succeeded", report.Summary)
	}
}

func TestOrchestratorAbortDecisionStopsRun(t *testing.T) {
	registry := chainCatalog(t, 4)
	recorder := newExecRecorder()

	impls := recorder.impls(4)
	impls[2] = recorder.fail(2, 12)

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
		Decider:         &scriptedDecider{decisions: []Decision{DecisionAbort}},
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want abort")
	}
	if !IsAbortedError(err) {
		t.Fatalf("error = %v, want aborted class", err)
	}
	if report.Status != StatusAborted {
		t.Errorf("Status = %s, want %s", report.Status, StatusAborted)
	}

	// Later phases never run; completed state keeps phase 1 so the next
	// invocation resumes at phase 2.
	want := []int{1, 2}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if got := fmt.Sprint(report.CompletedPhases); got != "[phase-01]" {
		t.Errorf("CompletedPhases = %s, want [phase-01]", got)
	}
	if report.ResumeCommand() == "" {
		t.Error("ResumeCommand() empty, want a resume hint")
	}
}

func TestOrchestratorRollbackDecisionRevertsAndStops(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	snapper := &fakeSnapshotter{}
	rbStore := &memRollbackStore{}
	journal := newMemJournal()

	impls := recorder.impls(5)
	impls[3] = recorder.fail(3, 13)

	cfg := DefaultRunConfig()
	cfg.Resume = false

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
		Rollback:        NewRollbackManager(rbStore, snapper),
		Journal:         journal,
		Decider:         &scriptedDecider{decisions: []Decision{DecisionRollback}},
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want the phase failure back")
	}
	if !IsExecutionError(err) {
		t.Fatalf("error = %v, want execution class", err)
	}
	if report.Status != StatusRolledBack {
		t.Errorf("Status = %s, want %s", report.Status, StatusRolledBack)
	}

	// The snapshot captured at run start is the one reverted to.
	if len(snapper.reverted) != 1 || snapper.reverted[0] != "snap-1" {
		t.Errorf("reverted = %v, want [snap-1]", snapper.reverted)
	}

	// Nothing after the rolled-back phase runs.
	want := []int{1, 2, 3}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	last := report.Results[len(report.Results)-1]
	if !last.RolledBack {
		t.Error("final result not marked rolled back")
	}
	if journal.actionCount(PhaseActionRollback) != 1 {
		t.Errorf("journaled %d rollback events, want 1", journal.actionCount(PhaseActionRollback))
	}
}

func TestOrchestratorRollbackDecisionWithoutToolingFails(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()

	impls := recorder.impls(3)
	impls[1] = recorder.fail(1, 9)

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
		Decider:         &scriptedDecider{decisions: []Decision{DecisionRollback}},
	})

	_, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want rollback error")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeNoRollbackPoint {
		t.Fatalf("error = %v, want code %s", err, ErrCodeNoRollbackPoint)
	}
	if got := ExitCode(err); got != ExitRollback {
		t.Errorf("ExitCode = %d, want %d", got, ExitRollback)
	}
}

func TestOrchestratorResumeKeepsOriginalRollbackPoint(t *testing.T) {
	registry := chainCatalog(t, 4)
	store := newMemStateStore()
	snapper := &fakeSnapshotter{}
	rbStore := &memRollbackStore{}

	// First run: fresh, fails at phase 3, operator aborts.
	recorder := newExecRecorder()
	impls := recorder.impls(4)
	impls[3] = recorder.fail(3, 12)

	cfg := DefaultRunConfig()
	cfg.Resume = false

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: impls,
		Store:           store,
		Rollback:        NewRollbackManager(rbStore, snapper),
		Decider:         &scriptedDecider{decisions: []Decision{DecisionAbort}},
	})
	report1, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("first run succeeded, want abort at phase 3")
	}
	if snapper.snapCalls != 1 {
		t.Fatalf("snapshot calls after first run = %d, want 1", snapper.snapCalls)
	}

	// Second run: resume with the failure fixed.
	recorder2 := newExecRecorder()
	orch2 := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder2.impls(4),
		Store:           store,
		Rollback:        NewRollbackManager(rbStore, snapper),
		Decider:         &scriptedDecider{},
	})
	report2, err := orch2.Execute(context.Background())
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if report2.Status != StatusSucceeded {
		t.Errorf("resume status = %s, want %s", report2.Status, StatusSucceeded)
	}

	// The resume picks up after phase 2 and takes no new snapshot: the
	// rollback point still belongs to the original fresh run.
	want := []int{3, 4}
	if fmt.Sprint(recorder2.order) != fmt.Sprint(want) {
		t.Errorf("resume executed %v, want %v", recorder2.order, want)
	}
	if snapper.snapCalls != 1 {
		t.Errorf("snapshot calls after resume = %d, want 1", snapper.snapCalls)
	}
	if rbStore.point == nil || rbStore.point.RunID != report1.RunID {
		t.Errorf("rollback point RunID = %+v, want the first run's ID %s", rbStore.point, report1.RunID)
	}
}

func TestOrchestratorSafePointResume(t *testing.T) {
	registry := chainCatalog(t, 5, 1, 3)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3, 4)

	cfg := DefaultRunConfig()
	cfg.FromSafePoint = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Highest completed is 4, the nearest completed safe point below it
	// is 3, so the run restarts at 4 and re-executes it.
	if report.StartPhase != 4 {
		t.Errorf("StartPhase = %d, want 4", report.StartPhase)
	}
	want := []int{4, 5}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.Summary.AlreadyComplete != 0 {
		t.Errorf("AlreadyComplete = %d, want 0 (phase 4 forced)", report.Summary.AlreadyComplete)
	}
}

func TestOrchestratorSafePointFallsBackToPhaseOne(t *testing.T) {
	registry := chainCatalog(t, 4) // no safe restart points
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2)

	cfg := DefaultRunConfig()
	cfg.FromSafePoint = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(4),
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.StartPhase != 1 {
		t.Errorf("StartPhase = %d, want 1", report.StartPhase)
	}
	want := []int{1, 2, 3, 4}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
}

func TestOrchestratorSafePointWithNothingToRedo(t *testing.T) {
	registry := chainCatalog(t, 3, 3)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3)

	cfg := DefaultRunConfig()
	cfg.FromSafePoint = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	_, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want nothing-to-do error")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeNothingToDo {
		t.Fatalf("error = %v, want code %s", err, ErrCodeNothingToDo)
	}
}

func TestOrchestratorDryRunMutatesNothing(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore()
	snapper := &fakeSnapshotter{}
	journal := newMemJournal()

	cfg := DefaultRunConfig()
	cfg.DryRun = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Rollback:        NewRollbackManager(&memRollbackStore{}, snapper),
		Journal:         journal,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}
	if !report.DryRun {
		t.Error("report.DryRun = false, want true")
	}

	// No implementation runs, no snapshot is taken, nothing is persisted,
	// and the journal stays empty.
	if len(recorder.order) != 0 {
		t.Errorf("implementations invoked: %v, want none", recorder.order)
	}
	if snapper.snapCalls != 0 {
		t.Errorf("snapshot calls = %d, want 0", snapper.snapCalls)
	}
	if len(store.marks) != 0 {
		t.Errorf("persisted marks = %v, want none", store.marks)
	}
	if len(journal.runs) != 0 || len(journal.events) != 0 {
		t.Errorf("journal recorded %d runs and %d events, want none", len(journal.runs), len(journal.events))
	}

	// Every phase still shows up as succeeded in the simulated walk.
	if report.Summary.Succeeded != 5 {
		t.Errorf("Summary.Succeeded = %d, want 5", report.Summary.Succeeded)
	}
}

func TestOrchestratorInterruptionStopsBetweenPhases(t *testing.T) {
	registry := chainCatalog(t, 4)
	recorder := newExecRecorder()
	store := newMemStateStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	impls := recorder.impls(4)
	impls[2] = ImplementationFunc(func(ctx context.Context, ec *ExecContext) error {
		recorder.record(2)
		cancel()
		return ctx.Err()
	})

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: impls,
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(ctx)
	if err == nil {
		t.Fatal("Execute succeeded, want interruption")
	}
	if !IsInterruptedError(err) {
		t.Fatalf("error = %v, want interrupted class", err)
	}
	if report.Status != StatusInterrupted {
		t.Errorf("Status = %s, want %s", report.Status, StatusInterrupted)
	}
	if got := ExitCode(err); got != ExitInterrupted {
		t.Errorf("ExitCode = %d, want %d", got, ExitInterrupted)
	}

	// Phase 1 completed before the signal, so the record keeps it and the
	// next invocation resumes at phase 2.
	if got := fmt.Sprint(report.CompletedPhases); got != "[phase-01]" {
		t.Errorf("CompletedPhases = %s, want [phase-01]", got)
	}
	if recorder.invocations[3] != 0 || recorder.invocations[4] != 0 {
		t.Error("phases after the interruption were invoked")
	}
}

func TestOrchestratorTestSinglePhaseForcesExecution(t *testing.T) {
	registry := chainCatalog(t, 5)
	recorder := newExecRecorder()
	store := newMemStateStore(1, 2, 3)

	cfg := DefaultRunConfig()
	cfg.TestPhase = 3

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: recorder.impls(5),
		Store:           store,
		Decider:         &scriptedDecider{},
	})
	if orch.Mode() != ModeTestSingle {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeTestSingle)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", report.Status, StatusSucceeded)
	}

	// Exactly one phase runs, re-executed despite being recorded complete.
	if recorder.invocations[3] != 1 {
		t.Errorf("phase 3 invoked %d times, want 1", recorder.invocations[3])
	}
	if len(report.Results) != 1 || report.Results[0].Ordinal != 3 {
		t.Errorf("Results = %+v, want exactly phase 3", report.Results)
	}
	if recorder.invocations[4] != 0 {
		t.Error("phase 4 invoked, want the run to stop after the tested phase")
	}
}

func TestOrchestratorTestSinglePhaseFailureIsTerminal(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	decider := &scriptedDecider{}

	impls := recorder.impls(3)
	impls[1] = recorder.fail(1, 12)

	cfg := DefaultRunConfig()
	cfg.TestPhase = 1

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          cfg,
		Registry:        registry,
		Implementations: impls,
		Store:           newMemStateStore(),
		Decider:         decider,
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want the phase failure")
	}
	if report.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", report.Status, StatusFailed)
	}

	// Single-phase test runs never open the failure menu.
	if decider.calls != 0 {
		t.Errorf("decider consulted %d times, want 0", decider.calls)
	}
	if recorder.invocations[1] != 1 {
		t.Errorf("phase 1 invoked %d times, want 1 (no retries)", recorder.invocations[1])
	}
}

func TestOrchestratorListModeReadsWithoutExecuting(t *testing.T) {
	registry := chainCatalog(t, 3)
	store := newMemStateStore(1)

	cfg := DefaultRunConfig()
	cfg.ListPhases = true

	// List mode needs no implementations at all.
	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:   cfg,
		Registry: registry,
		Store:    store,
	})
	if orch.Mode() != ModeList {
		t.Fatalf("Mode() = %s, want %s", orch.Mode(), ModeList)
	}

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := fmt.Sprint(report.CompletedPhases); got != "[phase-01]" {
		t.Errorf("CompletedPhases = %s, want [phase-01]", got)
	}
	if len(store.marks) != 0 {
		t.Errorf("list mode persisted marks: %v", store.marks)
	}
}

func TestOrchestratorResetModeClearsState(t *testing.T) {
	registry := chainCatalog(t, 3)
	store := newMemStateStore(1, 2, 3)

	cfg := DefaultRunConfig()
	cfg.ResetState = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:   cfg,
		Registry: registry,
		Store:    store,
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.resets != 1 {
		t.Errorf("resets = %d, want 1", store.resets)
	}
	if len(report.CompletedPhases) != 0 {
		t.Errorf("CompletedPhases = %v, want empty", report.CompletedPhases)
	}
	if store.state.HighestCompleted() != 0 {
		t.Errorf("state not cleared: %v", store.state.CompletedPhases)
	}
}

func TestOrchestratorRollbackModeRevertsLastPoint(t *testing.T) {
	registry := chainCatalog(t, 3)
	snapper := &fakeSnapshotter{}
	rbStore := &memRollbackStore{point: &RollbackPoint{
		Label:             "pre-deploy",
		SnapshotReference: "snap-42",
	}}

	cfg := DefaultRunConfig()
	cfg.Rollback = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:   cfg,
		Registry: registry,
		Store:    newMemStateStore(1, 2),
		Rollback: NewRollbackManager(rbStore, snapper),
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != StatusRolledBack {
		t.Errorf("Status = %s, want %s", report.Status, StatusRolledBack)
	}
	if len(snapper.reverted) != 1 || snapper.reverted[0] != "snap-42" {
		t.Errorf("reverted = %v, want [snap-42]", snapper.reverted)
	}
}

func TestOrchestratorRollbackModeWithoutPointFails(t *testing.T) {
	registry := chainCatalog(t, 3)

	cfg := DefaultRunConfig()
	cfg.Rollback = true

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:   cfg,
		Registry: registry,
		Store:    newMemStateStore(),
		Rollback: NewRollbackManager(&memRollbackStore{}, &fakeSnapshotter{}),
	})

	_, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want no-rollback-point error")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeNoRollbackPoint {
		t.Fatalf("error = %v, want code %s", err, ErrCodeNoRollbackPoint)
	}
}

func TestOrchestratorPersistenceFailureIsFatal(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	decider := &scriptedDecider{}

	store := newMemStateStore()
	store.markErr = errors.New("disk full")

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           store,
		Decider:         decider,
	})

	report, err := orch.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want persistence error")
	}
	if !IsPersistenceError(err) {
		t.Fatalf("error = %v, want persistence class", err)
	}
	if got := ExitCode(err); got != ExitPersistence {
		t.Errorf("ExitCode = %d, want %d", got, ExitPersistence)
	}
	if report.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", report.Status, StatusFailed)
	}
	if decider.calls != 0 {
		t.Errorf("decider consulted %d times, want 0", decider.calls)
	}
	if recorder.invocations[2] != 0 {
		t.Error("phase 2 invoked after an unrecordable phase 1")
	}
}

func TestOrchestratorCorruptStateStartsFresh(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()

	store := newMemStateStore(1, 2)
	store.loadErr = errors.New("unexpected end of JSON input")

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           store,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The unreadable record degrades to an empty one: everything runs.
	want := []int{1, 2, 3}
	if fmt.Sprint(recorder.order) != fmt.Sprint(want) {
		t.Errorf("executed %v, want %v", recorder.order, want)
	}
	if report.StartPhase != 1 {
		t.Errorf("StartPhase = %d, want 1", report.StartPhase)
	}
}

func TestOrchestratorJournalsRunLifecycle(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	journal := newMemJournal()

	orch := mustOrchestrator(t, OrchestratorOptions{
		Config:          DefaultRunConfig(),
		Registry:        registry,
		Implementations: recorder.impls(3),
		Store:           newMemStateStore(),
		Journal:         journal,
		Decider:         &scriptedDecider{},
	})

	report, err := orch.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(journal.runs) != 1 {
		t.Fatalf("journaled %d runs, want 1", len(journal.runs))
	}
	rec := journal.runs[0]
	if rec.ID != report.RunID {
		t.Errorf("journal run ID = %s, want %s", rec.ID, report.RunID)
	}
	if rec.Mode != string(ModeResume) || rec.StartPhase != 1 {
		t.Errorf("journal run = %+v, want resume from phase 1", rec)
	}
	if journal.finishes[report.RunID] != StatusSucceeded {
		t.Errorf("journal finish status = %s, want %s", journal.finishes[report.RunID], StatusSucceeded)
	}
	if journal.actionCount(PhaseActionStarted) != 3 || journal.actionCount(PhaseActionCompleted) != 3 {
		t.Errorf("journal events = %d started / %d completed, want 3 / 3",
			journal.actionCount(PhaseActionStarted), journal.actionCount(PhaseActionCompleted))
	}
}

func TestNewOrchestratorValidatesWiring(t *testing.T) {
	registry := chainCatalog(t, 3)
	recorder := newExecRecorder()
	store := newMemStateStore()

	cases := []struct {
		name string
		opts OrchestratorOptions
		want string
	}{
		{
			name: "missing registry",
			opts: OrchestratorOptions{Config: DefaultRunConfig(), Store: store},
			want: "registry is required",
		},
		{
			name: "missing store",
			opts: OrchestratorOptions{Config: DefaultRunConfig(), Registry: registry},
			want: "state store is required",
		},
		{
			name: "unknown start phase",
			opts: func() OrchestratorOptions {
				cfg := DefaultRunConfig()
				cfg.StartFromPhase = 99
				return OrchestratorOptions{Config: cfg, Registry: registry, Store: store, Implementations: recorder.impls(3)}
			}(),
			want: "--start-from-phase",
		},
		{
			name: "unknown skip phase",
			opts: func() OrchestratorOptions {
				cfg := DefaultRunConfig()
				cfg.SkipPhases = []int{42}
				return OrchestratorOptions{Config: cfg, Registry: registry, Store: store, Implementations: recorder.impls(3)}
			}(),
			want: "--skip-phase",
		},
		{
			name: "missing implementation",
			opts: OrchestratorOptions{
				Config:          DefaultRunConfig(),
				Registry:        registry,
				Store:           store,
				Implementations: map[int]Implementation{1: recorder.succeed(1)},
			},
			want: "has no implementation",
		},
		{
			name: "invalid failure policy",
			opts: func() OrchestratorOptions {
				cfg := DefaultRunConfig()
				cfg.OnFailure = "explode"
				return OrchestratorOptions{Config: cfg, Registry: registry, Store: store, Implementations: recorder.impls(3)}
			}(),
			want: "invalid run configuration",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrchestrator(tc.opts)
			if err == nil {
				t.Fatalf("NewOrchestrator succeeded, want error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}
