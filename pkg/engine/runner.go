package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

// PhaseRunner executes a single phase: completion check, dependency
// validation, implementation invocation, and durable completion marking,
// strictly in that order. The state store write happens only after the
// implementation returns success, so an interrupted process always resumes
// by re-running the interrupted phase.
type PhaseRunner struct {
	registry  *Registry
	validator *DependencyValidator
	impls     map[int]Implementation
	store     StateStore
	state     *ExecutionState
	ec        *ExecContext
	journal   Journal
}

// NewPhaseRunner creates a runner over the given catalog and state. The
// journal may be nil, in which case no events are recorded.
func NewPhaseRunner(registry *Registry, impls map[int]Implementation, store StateStore, state *ExecutionState, ec *ExecContext, journal Journal) *PhaseRunner {
	return &PhaseRunner{
		registry:  registry,
		validator: NewDependencyValidator(registry),
		impls:     impls,
		store:     store,
		state:     state,
		ec:        ec,
		journal:   journal,
	}
}

// State returns the in-memory completion record the runner updates.
func (r *PhaseRunner) State() *ExecutionState {
	return r.state
}

// Run executes the phase at ordinal. With force set, a recorded completion
// is ignored and the phase re-executes.
//
// The result's Err distinguishes outcomes: nil on success or skip, a
// dependency error when prerequisites are missing, an execution error when
// the implementation fails, a persistence error when the phase succeeded
// but could not be recorded (the run must stop), and an interruption error
// when the context was cancelled mid-phase.
func (r *PhaseRunner) Run(ctx context.Context, ordinal int, force bool) *PhaseResult {
	result := &PhaseResult{
		Ordinal:   ordinal,
		Attempts:  1,
		StartedAt: time.Now(),
	}

	phase, err := r.registry.Describe(ordinal)
	if err != nil {
		result.Status = PhaseFailed
		result.Err = err
		return result
	}
	result.PhaseID = phase.ID()

	log := telemetry.FromContext(ctx).WithPhase(phase.ID(), ordinal)

	if !force && r.state.IsComplete(ordinal) {
		log.WithField("phase_name", phase.Name).Debug("Phase already complete, skipping")
		result.Status = PhaseSkipped
		result.AlreadyComplete = true
		r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionSkipped, "already complete")
		return result
	}

	if err := r.validator.Validate(ordinal, r.state); err != nil {
		log.WithError(err).Error("Dependency validation failed")
		result.Status = PhaseFailed
		result.Err = err
		r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionFailed, err.Error())
		return result
	}

	impl, ok := r.impls[ordinal]
	if !ok {
		result.Status = PhaseFailed
		result.Err = NewConfigError(
			fmt.Sprintf("no implementation registered for phase %d (%s)", ordinal, phase.Name),
			nil).WithCode(ErrCodeInvalidCatalog)
		return result
	}

	if r.ec.DryRun {
		log.WithField("phase_name", phase.Name).Info("Dry run: would execute phase")
		// Mark in memory only, so later phases in the walk see their
		// dependencies satisfied. Nothing is persisted.
		r.state.MarkComplete(ordinal)
		result.Status = PhaseSucceeded
		result.Duration = time.Since(result.StartedAt)
		return result
	}

	log.WithField("phase_name", phase.Name).Info("Executing phase")
	r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionStarted, "")

	phaseCtx := telemetry.WithPhaseContext(ctx, phase.ID(), phase.Name, ordinal)
	execErr := r.invoke(phaseCtx, impl, &ExecContext{
		WorkDir: r.ec.WorkDir,
		DryRun:  false,
		Log:     log,
		Host:    r.ec.Host,
	})
	result.Duration = time.Since(result.StartedAt)

	if execErr != nil {
		result.Status = PhaseFailed

		if ctx.Err() != nil && (errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)) {
			result.Err = NewInterruptedError(execErr).WithPhase(phase.ID(), ordinal)
			telemetry.EndPhaseContext(phaseCtx, phase.ID(), "interrupted", execErr)
			log.WithError(execErr).Warn("Phase interrupted")
			r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionFailed, "interrupted: "+execErr.Error())
			return result
		}

		var exitErr *ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.Code
		} else {
			result.ExitCode = 1
		}
		result.Err = NewExecutionError(phase.ID(), ordinal, execErr)

		telemetry.EndPhaseContext(phaseCtx, phase.ID(), string(PhaseFailed), execErr)
		log.WithError(execErr).WithField("exit_code", result.ExitCode).Error("Phase failed")
		r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionFailed, execErr.Error())
		return result
	}

	// Persist completion before anything else observes it. A write
	// failure is fatal: continuing would let a later interruption
	// silently lose this phase.
	if err := r.store.MarkComplete(ctx, ordinal); err != nil {
		result.Status = PhaseFailed
		result.Err = NewPersistenceError("state.mark_complete",
			fmt.Sprintf("phase %d succeeded but completion could not be recorded", ordinal), err).
			WithPhase(phase.ID(), ordinal)

		telemetry.EndPhaseContext(phaseCtx, phase.ID(), string(PhaseFailed), err)
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordStateWrite("error")
		}
		log.WithError(err).Error("Failed to record phase completion")
		r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionFailed, "state write failed: "+err.Error())
		return result
	}
	r.state.MarkComplete(ordinal)

	result.Status = PhaseSucceeded
	telemetry.EndPhaseContext(phaseCtx, phase.ID(), string(PhaseSucceeded), nil)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordStateWrite("ok")
		tel.Metrics.SetCompletedPhases(float64(len(r.state.CompletedPhases)))
	}
	log.WithField("phase_name", phase.Name).
		WithField("duration", result.Duration.String()).
		Info("Phase completed")
	r.recordEvent(ctx, ordinal, phase.ID(), PhaseActionCompleted, "")

	return result
}

// invoke calls the implementation, converting a panic into a fault error.
func (r *PhaseRunner) invoke(ctx context.Context, impl Implementation, ec *ExecContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("phase panicked: %v", rec)
		}
	}()
	return impl.Execute(ctx, ec)
}

// recordEvent writes a journal event, logging a warning on failure. The
// journal is never load-bearing for a run.
func (r *PhaseRunner) recordEvent(ctx context.Context, ordinal int, phaseID string, action PhaseEventAction, detail string) {
	if r.journal == nil {
		return
	}
	ev := &PhaseEvent{
		RunID:   runIDFromContext(ctx),
		Ordinal: ordinal,
		PhaseID: phaseID,
		Action:  action,
		Detail:  detail,
	}
	if err := r.journal.RecordPhaseEvent(ctx, ev); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to record journal event")
	}
}
