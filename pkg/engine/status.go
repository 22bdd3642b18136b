package engine

import "fmt"

// PhaseStatus is the outcome of a single phase invocation.
type PhaseStatus string

const (
	// PhaseSucceeded means the implementation returned success and the
	// phase was recorded complete.
	PhaseSucceeded PhaseStatus = "succeeded"

	// PhaseFailed means the implementation returned a failure or fault.
	PhaseFailed PhaseStatus = "failed"

	// PhaseSkipped means the phase was not invoked (explicit skip or
	// already complete).
	PhaseSkipped PhaseStatus = "skipped"
)

// Validate checks that the status is a known value.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhaseSucceeded, PhaseFailed, PhaseSkipped:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %q", s)
	}
}

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	// StatusRunning means the run is in flight.
	StatusRunning RunStatus = "running"

	// StatusSucceeded means every phase in the range completed.
	StatusSucceeded RunStatus = "succeeded"

	// StatusFailed means a phase failed and the run stopped.
	StatusFailed RunStatus = "failed"

	// StatusAborted means an operator decision stopped the run.
	StatusAborted RunStatus = "aborted"

	// StatusRolledBack means the run ended by reverting to a snapshot.
	StatusRolledBack RunStatus = "rolled_back"

	// StatusInterrupted means a signal or cancellation cut the run short.
	StatusInterrupted RunStatus = "interrupted"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusRolledBack, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Validate checks that the status is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusAborted, StatusRolledBack, StatusInterrupted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %q", s)
	}
}

// RunStatusForError maps a terminal run error to its journal status.
func RunStatusForError(err error) RunStatus {
	if err == nil {
		return StatusSucceeded
	}
	switch {
	case IsAbortedError(err):
		return StatusAborted
	case IsInterruptedError(err):
		return StatusInterrupted
	default:
		return StatusFailed
	}
}
