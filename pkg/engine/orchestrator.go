package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagecraft/stagecraft/pkg/hostrun"
	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

type contextKey string

const runIDContextKey contextKey = "stagecraft.run_id"

func withRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey, runID)
}

func runIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDContextKey).(string); ok {
		return runID
	}
	return ""
}

// OrchestratorOptions wires an orchestrator's collaborators.
type OrchestratorOptions struct {
	// Config is the invocation configuration. Nil means defaults.
	Config *RunConfig

	// Registry is the validated phase catalog.
	Registry *Registry

	// Implementations maps ordinals to phase bodies. Every phase needs
	// one for any mode that executes phases.
	Implementations map[int]Implementation

	// Store persists the completion record.
	Store StateStore

	// Rollback manages rollback points. Nil means no snapshot tooling
	// is configured: fresh runs proceed without a point and rollback
	// requests fail.
	Rollback *RollbackManager

	// Decider resolves phase failures. Nil picks the interactive
	// provider on a terminal and the policy provider otherwise.
	Decider DecisionProvider

	// Journal records run history. Nil disables journaling; dry-run
	// disables it regardless.
	Journal Journal

	// Host executes commands for phase implementations. Nil means a
	// local runner in the working directory.
	Host hostrun.Runner
}

// Orchestrator drives a whole run: mode resolution, start-phase
// computation, rollback point creation, the phase-range loop, and failure
// decisions. Execution is strictly sequential; phases mutate shared system
// state, so there is never more than one in flight.
type Orchestrator struct {
	cfg      *RunConfig
	mode     RunMode
	registry *Registry
	impls    map[int]Implementation
	store    StateStore
	rollback *RollbackManager
	decide   DecisionProvider
	journal  Journal
	host     hostrun.Runner
}

// NewOrchestrator validates the configuration, resolves the run mode, and
// builds the orchestrator. Configuration problems are fatal here, before
// anything executes.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}

	if opts.Registry == nil {
		return nil, NewConfigError("phase registry is required", nil)
	}
	if opts.Store == nil {
		return nil, NewConfigError("state store is required", nil)
	}

	// Ordinal flags are checked against the catalog up front, never
	// clamped.
	for flag, ordinal := range map[string]int{
		"--start-from-phase": cfg.StartFromPhase,
		"--restart-phase":    cfg.RestartPhase,
		"--test-phase":       cfg.TestPhase,
		"--show-phase-info":  cfg.ShowPhaseInfo,
	} {
		if ordinal == 0 {
			continue
		}
		if _, err := opts.Registry.Describe(ordinal); err != nil {
			return nil, NewConfigError(fmt.Sprintf("%s: invalid phase", flag), err)
		}
	}
	for _, ordinal := range cfg.SkipPhases {
		if _, err := opts.Registry.Describe(ordinal); err != nil {
			return nil, NewConfigError("--skip-phase: invalid phase", err)
		}
	}

	executes := !mode.IsTerminal() || mode == ModeTestSingle
	if executes {
		for _, phase := range opts.Registry.All() {
			if _, ok := opts.Implementations[phase.Ordinal]; !ok {
				return nil, NewConfigError(
					fmt.Sprintf("phase %d (%s) has no implementation", phase.Ordinal, phase.Name),
					nil).WithCode(ErrCodeInvalidCatalog)
			}
		}
	}

	decide := opts.Decider
	if decide == nil {
		if !cfg.DryRun && !cfg.NonInteractive && TerminalIsInteractive() {
			decide = NewInteractiveDecisionProvider()
		} else {
			policy, err := NewPolicyDecisionProvider(cfg.OnFailure, cfg.MaxRetries)
			if err != nil {
				return nil, err
			}
			decide = policy
		}
	}

	host := opts.Host
	if host == nil {
		host = hostrun.NewLocalRunner(cfg.WorkDir)
	}

	journal := opts.Journal
	if cfg.DryRun {
		// Dry runs mutate nothing, the journal included.
		journal = nil
	}

	return &Orchestrator{
		cfg:      cfg,
		mode:     mode,
		registry: opts.Registry,
		impls:    opts.Implementations,
		store:    opts.Store,
		rollback: opts.Rollback,
		decide:   decide,
		journal:  journal,
		host:     host,
	}, nil
}

// Mode returns the resolved run mode.
func (o *Orchestrator) Mode() RunMode {
	return o.mode
}

// Execute performs the resolved mode and returns the run report. The
// returned error, when non-nil, maps to a process exit code via ExitCode.
func (o *Orchestrator) Execute(ctx context.Context) (*RunReport, error) {
	runID := uuid.New().String()
	ctx = withRunID(ctx, runID)

	log := telemetry.FromContext(ctx).WithRunID(runID).WithMode(string(o.mode))
	ctx = log.WithContext(ctx)

	switch o.mode {
	case ModeList, ModeShowInfo:
		return o.executeReadOnly(ctx, runID)
	case ModeResetState:
		return o.executeReset(ctx, runID)
	case ModeRollback:
		return o.executeRollback(ctx, runID)
	case ModeTestSingle:
		return o.executeTestSingle(ctx, runID)
	default:
		return o.executeRange(ctx, runID)
	}
}

// executeReadOnly serves list and show-info: it reads the completion
// record and returns it with the report, touching no mutation path.
func (o *Orchestrator) executeReadOnly(ctx context.Context, runID string) (*RunReport, error) {
	report := o.newReport(runID)

	state := o.loadStateOrFresh(ctx)
	report.CompletedPhases = state.CompletedPhases
	report.Status = StatusSucceeded
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

func (o *Orchestrator) executeReset(ctx context.Context, runID string) (*RunReport, error) {
	report := o.newReport(runID)
	log := telemetry.FromContext(ctx)

	if err := o.store.Reset(ctx); err != nil {
		report.Status = StatusFailed
		perr := NewPersistenceError("state.reset", "failed to reset completion state", err)
		report.Err = perr
		return report, perr
	}

	log.Info("Completion state reset")
	report.Status = StatusSucceeded
	report.CompletedPhases = []string{}
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

func (o *Orchestrator) executeRollback(ctx context.Context, runID string) (*RunReport, error) {
	report := o.newReport(runID)

	if o.rollback == nil {
		err := NewRollbackError("no snapshot tooling configured", nil).WithCode(ErrCodeNoRollbackPoint)
		report.Status = StatusFailed
		report.Err = err
		return report, err
	}

	o.journalStart(ctx, runID, 0)

	if err := o.rollback.Rollback(ctx, nil); err != nil {
		report.Status = StatusFailed
		report.Err = err
		o.journalFinish(ctx, runID, StatusFailed, err)
		return report, err
	}

	o.journalEvent(ctx, 0, "", PhaseActionRollback, "reverted to last recorded rollback point")
	report.Status = StatusRolledBack
	report.Duration = time.Since(report.StartedAt)
	o.journalFinish(ctx, runID, StatusRolledBack, nil)
	return report, nil
}

// executeTestSingle runs exactly one phase, forcing re-execution if it is
// already complete. The outcome is terminal either way: no retries, no
// failure menu.
func (o *Orchestrator) executeTestSingle(ctx context.Context, runID string) (*RunReport, error) {
	report := o.newReport(runID)
	report.StartPhase = o.cfg.TestPhase

	ctx = telemetry.WithRunContext(ctx, runID, string(o.mode))
	o.journalStart(ctx, runID, o.cfg.TestPhase)

	state := o.loadStateOrFresh(ctx)
	runner := o.newRunner(state)

	result := runner.Run(ctx, o.cfg.TestPhase, true)
	report.Results = append(report.Results, result)
	report.CompletedPhases = state.CompletedPhases

	var err error
	if result.Status == PhaseSucceeded {
		report.Status = StatusSucceeded
	} else {
		report.Status = RunStatusForError(result.Err)
		err = result.Err
	}
	return o.finish(ctx, runID, report, err)
}

// executeRange drives the fresh, resume, explicit-start, and restart
// modes: compute the start ordinal, create a rollback point when this run
// is the workflow's first, then walk the range routing failures through
// the decision provider.
func (o *Orchestrator) executeRange(ctx context.Context, runID string) (*RunReport, error) {
	report := o.newReport(runID)
	log := telemetry.FromContext(ctx)
	count := o.registry.Count()

	state := o.loadStateOrFresh(ctx)
	if o.mode == ModeFresh && len(state.CompletedPhases) > 0 {
		log.WithField("recorded", len(state.CompletedPhases)).
			Info("Fresh run requested, re-executing all phases")
		state = NewExecutionState()
	}

	startOrdinal, force, err := o.computeStart(ctx, state)
	if err != nil {
		report.Status = StatusFailed
		report.Err = err
		return report, err
	}
	report.StartPhase = startOrdinal

	ctx = telemetry.WithRunContext(ctx, runID, string(o.mode))
	o.journalStart(ctx, runID, startOrdinal)

	// The rollback point captures the system before the workflow's
	// first mutation. That is a fresh run, or a resume that has nothing
	// completed yet (the default invocation on a pristine machine).
	wantPoint := o.mode == ModeFresh ||
		(o.mode == ModeResume && len(state.CompletedPhases) == 0)
	if wantPoint && !o.cfg.DryRun {
		if o.rollback == nil {
			log.Warn("No snapshot tooling configured, proceeding without a rollback point")
		} else {
			label := fmt.Sprintf("pre-deploy %s", time.Now().UTC().Format(time.RFC3339))
			point, err := o.rollback.CreatePoint(ctx, label, runID)
			if err != nil {
				report.Status = StatusFailed
				report.Err = err
				return o.finish(ctx, runID, report, err)
			}
			report.RollbackPoint = point
		}
	}

	skip := make(map[int]bool, len(o.cfg.SkipPhases))
	for _, ordinal := range o.cfg.SkipPhases {
		skip[ordinal] = true
	}

	runner := o.newRunner(state)

	for ordinal := startOrdinal; ordinal <= count; ordinal++ {
		if ctx.Err() != nil {
			ierr := NewInterruptedError(ctx.Err())
			report.Status = StatusInterrupted
			report.Err = ierr
			report.CompletedPhases = state.CompletedPhases
			return o.finish(ctx, runID, report, ierr)
		}

		phase, err := o.registry.Describe(ordinal)
		if err != nil {
			report.Status = StatusFailed
			report.Err = err
			return o.finish(ctx, runID, report, err)
		}

		if skip[ordinal] {
			log.WithPhase(phase.ID(), ordinal).
				WithField("phase_name", phase.Name).
				Warn("SKIPPING phase by request; it will not be marked complete")
			report.Results = append(report.Results, &PhaseResult{
				PhaseID: phase.ID(),
				Ordinal: ordinal,
				Status:  PhaseSkipped,
			})
			o.journalEvent(ctx, ordinal, phase.ID(), PhaseActionSkipped, "explicit skip")
			continue
		}

		result, fatal := o.runWithDecisions(ctx, runner, phase, force[ordinal])
		report.Results = append(report.Results, result)

		if fatal != nil {
			report.Status = RunStatusForError(fatal)
			report.Err = fatal
			report.CompletedPhases = state.CompletedPhases
			return o.finish(ctx, runID, report, fatal)
		}
		if result.RolledBack {
			// The range stops immediately: the system was reverted,
			// so nothing later should build on it. The original
			// failure is the run's error.
			report.Status = StatusRolledBack
			report.Err = result.Err
			report.CompletedPhases = state.CompletedPhases
			return o.finish(ctx, runID, report, result.Err)
		}
	}

	report.Status = StatusSucceeded
	report.CompletedPhases = state.CompletedPhases
	return o.finish(ctx, runID, report, nil)
}

// runWithDecisions invokes one phase, re-invoking it while the decision
// provider answers retry. It returns the final result plus a fatal error
// when the run must stop (abort, dependency violation, persistence
// failure, interruption).
func (o *Orchestrator) runWithDecisions(ctx context.Context, runner *PhaseRunner, phase *Phase, force bool) (*PhaseResult, error) {
	log := telemetry.FromContext(ctx)
	tel := telemetry.FromTelemetryContext(ctx)

	attempt := 0
	for {
		attempt++
		result := runner.Run(ctx, phase.Ordinal, force)
		result.Attempts = attempt

		if result.Status != PhaseFailed {
			return result, nil
		}

		// Only execution failures reach the decision menu. Everything
		// else has exactly one correct response.
		switch {
		case IsInterruptedError(result.Err):
			return result, result.Err
		case IsPersistenceError(result.Err):
			return result, result.Err
		case IsDependencyError(result.Err):
			log.WithError(result.Err).
				Error("Dependency violation; resume from an earlier phase instead")
			return result, result.Err
		case IsConfigError(result.Err):
			return result, result.Err
		}

		decision, derr := o.decide.Decide(ctx, &PhaseFailure{
			Phase:   phase,
			Result:  result,
			Attempt: attempt,
		})
		if derr != nil {
			if ctx.Err() != nil {
				ierr := NewInterruptedError(derr)
				return result, ierr
			}
			log.WithError(derr).Error("Failure decision unavailable, aborting")
			decision = DecisionAbort
		}

		o.journalEvent(ctx, phase.Ordinal, phase.ID(), PhaseActionDecision, string(decision))
		if tel != nil {
			tel.Metrics.RecordFailureDecision(string(decision))
		}

		switch decision {
		case DecisionRetry:
			if tel != nil {
				tel.Metrics.RecordPhaseRetry(phase.ID())
			}
			o.journalEvent(ctx, phase.Ordinal, phase.ID(), PhaseActionRetried,
				fmt.Sprintf("attempt %d", attempt+1))
			log.WithPhase(phase.ID(), phase.Ordinal).
				WithField("attempt", attempt+1).
				Info("Retrying phase")
			continue

		case DecisionSkip:
			log.WithPhase(phase.ID(), phase.Ordinal).
				Warn("Phase skipped after failure; it stays incomplete")
			result.Status = PhaseSkipped
			return result, nil

		case DecisionRollback:
			if o.rollback == nil {
				err := NewRollbackError("rollback requested but no snapshot tooling configured", nil).
					WithCode(ErrCodeNoRollbackPoint)
				return result, err
			}
			if err := o.rollback.Rollback(ctx, nil); err != nil {
				return result, err
			}
			o.journalEvent(ctx, phase.Ordinal, phase.ID(), PhaseActionRollback,
				"reverted to last rollback point after failure")
			result.RolledBack = true
			return result, nil

		default:
			return result, NewAbortedError(phase.ID(), phase.Ordinal)
		}
	}
}

// computeStart resolves the start ordinal for the range modes, plus the
// set of ordinals whose recorded completion must be ignored.
func (o *Orchestrator) computeStart(ctx context.Context, state *ExecutionState) (int, map[int]bool, error) {
	log := telemetry.FromContext(ctx)
	count := o.registry.Count()
	force := make(map[int]bool)

	switch o.mode {
	case ModeFresh:
		return 1, force, nil

	case ModeExplicitStart:
		return o.cfg.StartFromPhase, force, nil

	case ModeRestart:
		force[o.cfg.RestartPhase] = true
		return o.cfg.RestartPhase, force, nil

	case ModeResume:
		if o.cfg.FromSafePoint {
			return o.safePointStart(ctx, state)
		}
		for ordinal := 1; ordinal <= count; ordinal++ {
			if !state.IsComplete(ordinal) {
				if ordinal > 1 {
					log.WithField("start_phase", ordinal).
						Info("Resuming from first incomplete phase")
				}
				return ordinal, force, nil
			}
		}
		return 0, nil, NewConfigError(
			fmt.Sprintf("all %d phases are already complete; pass --force-update to redo the full deployment or --reset-state to clear the record", count),
			nil).WithCode(ErrCodeNothingToDo)

	default:
		return 0, nil, NewConfigError(fmt.Sprintf("mode %s does not run a phase range", o.mode), nil)
	}
}

// safePointStart scans backward from the highest completed phase for the
// highest completed safe restart point, and resumes from the phase after
// it. Completed phases past the safe point re-execute: redone work is the
// price of a consistent starting state.
func (o *Orchestrator) safePointStart(ctx context.Context, state *ExecutionState) (int, map[int]bool, error) {
	log := telemetry.FromContext(ctx)
	force := make(map[int]bool)

	highest := state.HighestCompleted()
	if highest == 0 {
		return 1, force, nil
	}

	safe := 0
	for ordinal := highest; ordinal >= 1; ordinal-- {
		if !state.IsComplete(ordinal) {
			continue
		}
		phase, err := o.registry.Describe(ordinal)
		if err != nil {
			return 0, nil, err
		}
		if phase.SafeRestartPoint {
			safe = ordinal
			break
		}
	}

	start := safe + 1
	if start > o.registry.Count() {
		return 0, nil, NewConfigError(
			"nothing to redo: the last completed phase is a safe restart point and no later phases exist; pass --force-update to redo the full deployment",
			nil).WithCode(ErrCodeNothingToDo)
	}

	for ordinal := start; ordinal <= highest; ordinal++ {
		if state.IsComplete(ordinal) {
			force[ordinal] = true
		}
	}

	if safe == 0 {
		log.Warn("No completed safe restart point found, re-executing from phase 1")
	} else {
		log.WithField("safe_point", safe).
			WithField("start_phase", start).
			WithField("redone_phases", len(force)).
			Info("Resuming from safe restart point")
	}
	return start, force, nil
}

// loadStateOrFresh reads the completion record, degrading a corrupt or
// unreadable record to an empty one with a warning. Losing the resume
// point is recoverable; refusing to start is not.
func (o *Orchestrator) loadStateOrFresh(ctx context.Context) *ExecutionState {
	state, err := o.store.Load(ctx)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).
			Warn("Completion state unreadable, starting fresh")
		return NewExecutionState()
	}
	return state
}

func (o *Orchestrator) newRunner(state *ExecutionState) *PhaseRunner {
	return NewPhaseRunner(o.registry, o.impls, o.store, state, &ExecContext{
		WorkDir: o.cfg.WorkDir,
		DryRun:  o.cfg.DryRun,
		Host:    o.host,
	}, o.journal)
}

func (o *Orchestrator) newReport(runID string) *RunReport {
	return &RunReport{
		RunID:     runID,
		Mode:      o.mode,
		DryRun:    o.cfg.DryRun,
		StartedAt: time.Now(),
	}
}

// finish stamps the report, closes run instrumentation, and records the
// journal outcome.
func (o *Orchestrator) finish(ctx context.Context, runID string, report *RunReport, err error) (*RunReport, error) {
	report.Duration = time.Since(report.StartedAt)
	report.Summary = summarize(o.registry.Count(), report.Results)

	telemetry.EndRunContext(ctx, string(report.Status), err)
	o.journalFinish(ctx, runID, report.Status, err)
	return report, err
}

func (o *Orchestrator) journalStart(ctx context.Context, runID string, startPhase int) {
	if o.journal == nil {
		return
	}
	rec := &RunRecord{
		ID:         runID,
		Mode:       string(o.mode),
		StartPhase: startPhase,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.journal.StartRun(ctx, rec); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to journal run start")
	}
}

func (o *Orchestrator) journalFinish(ctx context.Context, runID string, status RunStatus, runErr error) {
	if o.journal == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := o.journal.FinishRun(ctx, runID, status, msg); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to journal run finish")
	}
}

func (o *Orchestrator) journalEvent(ctx context.Context, ordinal int, phaseID string, action PhaseEventAction, detail string) {
	if o.journal == nil {
		return
	}
	ev := &PhaseEvent{
		RunID:   runIDFromContext(ctx),
		Ordinal: ordinal,
		PhaseID: phaseID,
		Action:  action,
		Detail:  detail,
	}
	if err := o.journal.RecordPhaseEvent(ctx, ev); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to record journal event")
	}
}
