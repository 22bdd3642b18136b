package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/stagecraft/stagecraft/pkg/hostrun"
	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

var validate = validator.New()

// Phase describes one step in the deployment sequence.
type Phase struct {
	// Ordinal is the 1-based position of the phase in the sequence.
	Ordinal int `json:"ordinal" yaml:"ordinal" validate:"required,gte=1"`

	// Name is the short human-readable phase name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description explains what the phase does.
	Description string `json:"description" yaml:"description"`

	// Dependencies lists the ordinals that must be complete before this
	// phase may run. All dependencies point at earlier phases.
	Dependencies []int `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"omitempty,dive,gte=1"`

	// SafeRestartPoint marks a phase that is safe to resume from after
	// an interrupted run. Phases that mutate external state mid-flight
	// leave it false so recovery backs up to an earlier boundary.
	SafeRestartPoint bool `json:"safe_restart_point" yaml:"safe_restart_point"`
}

// ID returns the stable phase identifier derived from the ordinal.
func (p *Phase) ID() string {
	return PhaseID(p.Ordinal)
}

// ExecContext is the shared context handed to every phase implementation.
// Phases receive nothing else; the orchestrator never inspects what a
// phase does with it.
type ExecContext struct {
	// WorkDir is the deployment working directory.
	WorkDir string

	// DryRun indicates the phase must describe its work without
	// mutating anything.
	DryRun bool

	// Log is the logger scoped to the current phase.
	Log *telemetry.Logger

	// Host executes commands on the target host.
	Host hostrun.Runner
}

// Implementation is one phase's executable body. The return contract is
// tri-state: nil means success, *ExitError means a failure with a known
// exit code, and any other error (or a panic) means a fault.
type Implementation interface {
	Execute(ctx context.Context, ec *ExecContext) error
}

// ImplementationFunc adapts a function to the Implementation interface.
type ImplementationFunc func(ctx context.Context, ec *ExecContext) error

// Execute implements Implementation.
func (f ImplementationFunc) Execute(ctx context.Context, ec *ExecContext) error {
	return f(ctx, ec)
}

// ExitError reports a phase failure with a meaningful exit code.
type ExitError struct {
	// Code is the failure exit code (non-zero).
	Code int `json:"code"`

	// Message describes the failure.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exit code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// PhaseResult records the outcome of one phase invocation.
type PhaseResult struct {
	// PhaseID identifies the phase.
	PhaseID string `json:"phase_id"`

	// Ordinal is the phase position.
	Ordinal int `json:"ordinal"`

	// Status is the outcome.
	Status PhaseStatus `json:"status"`

	// ExitCode is the phase exit code on failure (0 otherwise).
	ExitCode int `json:"exit_code,omitempty"`

	// Attempts counts how many times the phase was invoked this run,
	// including retries.
	Attempts int `json:"attempts"`

	// AlreadyComplete indicates the phase was skipped because the state
	// store already recorded it as done.
	AlreadyComplete bool `json:"already_complete,omitempty"`

	// RolledBack indicates the failure was answered by reverting to the
	// rollback point.
	RolledBack bool `json:"rolled_back,omitempty"`

	// StartedAt is when the invocation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`

	// Err is the failure, if any.
	Err error `json:"-"`
}

// RollbackPoint records a system snapshot taken before a fresh run so the
// deployment can be reverted.
type RollbackPoint struct {
	// Label is the human-readable point name.
	Label string `json:"label" validate:"required"`

	// SnapshotReference identifies the snapshot in the underlying
	// snapshot tooling.
	SnapshotReference string `json:"snapshot_reference" validate:"required"`

	// RunID is the run that created the point.
	RunID string `json:"run_id,omitempty"`

	// CreatedAt is when the point was captured.
	CreatedAt time.Time `json:"created_at"`
}

// Failure policies for non-interactive runs.
const (
	PolicyAbort = "abort"
	PolicyRetry = "retry"
	PolicySkip  = "skip"
)

// RunConfig captures everything an invocation asks for. It maps directly
// onto the CLI flag surface and is validated before mode resolution.
type RunConfig struct {
	// DryRun describes the run without executing or persisting anything.
	DryRun bool `json:"dry_run"`

	// Resume continues from the lowest incomplete phase (default true).
	Resume bool `json:"resume"`

	// ForceUpdate re-runs everything from phase 1 even when the state
	// store says all phases are complete.
	ForceUpdate bool `json:"force_update"`

	// StartFromPhase starts the range at this ordinal (0 = unset).
	StartFromPhase int `json:"start_from_phase" validate:"gte=0"`

	// RestartPhase starts at this ordinal and forces it to re-execute
	// even if already complete (0 = unset).
	RestartPhase int `json:"restart_phase" validate:"gte=0"`

	// FromSafePoint resumes from the highest completed safe restart
	// point instead of the lowest incomplete phase.
	FromSafePoint bool `json:"from_safe_point"`

	// SkipPhases lists ordinals to skip during the range loop.
	SkipPhases []int `json:"skip_phases,omitempty" validate:"omitempty,dive,gte=1"`

	// TestPhase runs exactly this one phase and stops (0 = unset).
	TestPhase int `json:"test_phase" validate:"gte=0"`

	// ListPhases prints the phase catalog and exits.
	ListPhases bool `json:"list_phases"`

	// ShowPhaseInfo prints one phase's details and exits (0 = unset).
	ShowPhaseInfo int `json:"show_phase_info" validate:"gte=0"`

	// Rollback reverts to the last recorded rollback point and exits.
	Rollback bool `json:"rollback"`

	// ResetState clears the completion record and exits.
	ResetState bool `json:"reset_state"`

	// OnFailure is the non-interactive failure policy.
	OnFailure string `json:"on_failure" validate:"required,oneof=abort retry skip"`

	// MaxRetries bounds the retry policy per phase.
	MaxRetries int `json:"max_retries" validate:"gte=0"`

	// NonInteractive disables the failure prompt even on a TTY.
	NonInteractive bool `json:"non_interactive"`

	// WorkDir is the deployment working directory.
	WorkDir string `json:"work_dir"`
}

// DefaultRunConfig returns the configuration a bare invocation gets.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Resume:     true,
		OnFailure:  PolicyAbort,
		MaxRetries: 2,
	}
}

// Validate checks the configuration for structural problems. Mode
// exclusivity is checked separately by ResolveMode.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewConfigError("invalid run configuration", err)
	}
	return nil
}

// RunRecord is one row of the run journal.
type RunRecord struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// Mode is the resolved run mode.
	Mode string `json:"mode"`

	// StartPhase is the ordinal the range started at.
	StartPhase int `json:"start_phase"`

	// Status is the run outcome, or StatusRunning while in flight.
	Status RunStatus `json:"status"`

	// Error holds the terminal error message, if any.
	Error string `json:"error,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PhaseEventAction identifies what happened to a phase during a run.
type PhaseEventAction string

const (
	PhaseActionStarted   PhaseEventAction = "started"
	PhaseActionCompleted PhaseEventAction = "completed"
	PhaseActionFailed    PhaseEventAction = "failed"
	PhaseActionSkipped   PhaseEventAction = "skipped"
	PhaseActionRetried   PhaseEventAction = "retried"
	PhaseActionDecision  PhaseEventAction = "decision"
	PhaseActionRollback  PhaseEventAction = "rollback"
)

// PhaseEvent is one row of a run's event timeline.
type PhaseEvent struct {
	// ID is the journal-assigned event ID.
	ID int64 `json:"id"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// Ordinal is the phase position (0 for run-level events).
	Ordinal int `json:"ordinal"`

	// PhaseID identifies the phase (empty for run-level events).
	PhaseID string `json:"phase_id,omitempty"`

	// Action is what happened.
	Action PhaseEventAction `json:"action"`

	// Detail carries extra context (error text, decision taken).
	Detail string `json:"detail,omitempty"`

	// CreatedAt is when the event was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Journal records run history for later review. Journal writes are
// best-effort: a failure is logged but never stops a deployment.
type Journal interface {
	// StartRun inserts a run in StatusRunning.
	StartRun(ctx context.Context, rec *RunRecord) error

	// FinishRun marks a run terminal with its final status.
	FinishRun(ctx context.Context, runID string, status RunStatus, errMsg string) error

	// RecordPhaseEvent appends one event to a run's timeline.
	RecordPhaseEvent(ctx context.Context, ev *PhaseEvent) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListPhaseEvents returns a run's events in insertion order.
	ListPhaseEvents(ctx context.Context, runID string) ([]*PhaseEvent, error)

	// Close releases the journal's resources.
	Close() error
}
