package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes engine errors for handling and exit-code mapping.
type ErrorClass string

const (
	// ErrorClassConfig indicates invalid run configuration or an invalid
	// phase catalog. Nothing was executed.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassDependency indicates a phase was requested whose
	// dependencies are not complete.
	ErrorClassDependency ErrorClass = "dependency"

	// ErrorClassExecution indicates a phase implementation failed.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassPersistence indicates completion state could not be
	// loaded or written.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassRollback indicates a rollback could not be performed.
	ErrorClassRollback ErrorClass = "rollback"

	// ErrorClassAborted indicates the run was stopped by an operator
	// decision.
	ErrorClassAborted ErrorClass = "aborted"

	// ErrorClassInterrupted indicates the run was cut short by a signal
	// or context cancellation.
	ErrorClassInterrupted ErrorClass = "interrupted"
)

// Error codes for programmatic handling.
const (
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeInvalidCatalog    = "INVALID_CATALOG"
	ErrCodeUnknownPhase      = "UNKNOWN_PHASE"
	ErrCodeMissingDependency = "MISSING_DEPENDENCY"
	ErrCodePhaseFailed       = "PHASE_FAILED"
	ErrCodePhasePanicked     = "PHASE_PANICKED"
	ErrCodeStateLoad         = "STATE_LOAD"
	ErrCodeStateWrite        = "STATE_WRITE"
	ErrCodeNoRollbackPoint   = "NO_ROLLBACK_POINT"
	ErrCodeRollbackFailed    = "ROLLBACK_FAILED"
	ErrCodeSnapshotFailed    = "SNAPSHOT_FAILED"
	ErrCodeRunAborted        = "RUN_ABORTED"
	ErrCodeRunInterrupted    = "RUN_INTERRUPTED"
	ErrCodeNothingToDo       = "NOTHING_TO_DO"
)

// Process exit codes. Each failure class gets its own code so wrapper
// scripts can react without parsing output.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitAborted     = 2
	ExitDependency  = 3
	ExitRollback    = 4
	ExitPersistence = 5
	ExitInterrupted = 6
)

// EngineError is the standard error type for orchestration failures.
type EngineError struct {
	// Class categorizes the error.
	Class ErrorClass `json:"class"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// PhaseID identifies the phase involved, if any.
	PhaseID string `json:"phase_id,omitempty"`

	// Ordinal is the position of the phase involved, if any.
	Ordinal int `json:"ordinal,omitempty"`

	// Op names the operation that failed (e.g. "state.load").
	Op string `json:"op,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details carries additional structured context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.PhaseID != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s %s: %v", e.Class, e.PhaseID, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s] %s %s", e.Class, e.PhaseID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error by class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Class != "" && t.Class != e.Class {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfig,
		Message: message,
		Code:    ErrCodeInvalidConfig,
		Err:     err,
	}
}

// NewDependencyError creates a dependency violation error for a phase.
func NewDependencyError(phaseID string, ordinal int, missing []int) *EngineError {
	return &EngineError{
		Class:   ErrorClassDependency,
		Message: fmt.Sprintf("requires phases %v to be complete", missing),
		Code:    ErrCodeMissingDependency,
		PhaseID: phaseID,
		Ordinal: ordinal,
		Details: map[string]interface{}{"missing": missing},
	}
}

// NewExecutionError creates a phase execution error.
func NewExecutionError(phaseID string, ordinal int, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExecution,
		Message: "phase failed",
		Code:    ErrCodePhaseFailed,
		PhaseID: phaseID,
		Ordinal: ordinal,
		Err:     err,
	}
}

// NewPersistenceError creates a state persistence error.
func NewPersistenceError(op, message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPersistence,
		Message: message,
		Code:    ErrCodeStateWrite,
		Op:      op,
		Err:     err,
	}
}

// NewRollbackError creates a rollback failure error.
func NewRollbackError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRollback,
		Message: message,
		Code:    ErrCodeRollbackFailed,
		Err:     err,
	}
}

// NewAbortedError creates an operator-abort error.
func NewAbortedError(phaseID string, ordinal int) *EngineError {
	return &EngineError{
		Class:   ErrorClassAborted,
		Message: "run aborted",
		Code:    ErrCodeRunAborted,
		PhaseID: phaseID,
		Ordinal: ordinal,
	}
}

// NewInterruptedError creates an interruption error.
func NewInterruptedError(err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInterrupted,
		Message: "run interrupted",
		Code:    ErrCodeRunInterrupted,
		Err:     err,
	}
}

// WithCode sets the error code and returns the error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithOp sets the failing operation and returns the error.
func (e *EngineError) WithOp(op string) *EngineError {
	e.Op = op
	return e
}

// WithPhase attaches phase identity and returns the error.
func (e *EngineError) WithPhase(phaseID string, ordinal int) *EngineError {
	e.PhaseID = phaseID
	e.Ordinal = ordinal
	return e
}

// WithDetail adds a structured detail and returns the error.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassConfig
}

// IsDependencyError reports whether err is a dependency violation.
func IsDependencyError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassDependency
}

// IsExecutionError reports whether err is a phase execution failure.
func IsExecutionError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassExecution
}

// IsPersistenceError reports whether err is a persistence failure.
func IsPersistenceError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassPersistence
}

// IsRollbackError reports whether err is a rollback failure.
func IsRollbackError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassRollback
}

// IsAbortedError reports whether err is an operator abort.
func IsAbortedError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassAborted
}

// IsInterruptedError reports whether err is an interruption.
func IsInterruptedError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassInterrupted
}

// MissingDependencies extracts the missing phase ordinals from a
// dependency error, or nil if err is not one.
func MissingDependencies(err error) []int {
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Class != ErrorClassDependency {
		return nil
	}
	missing, ok := ee.Details["missing"].([]int)
	if !ok {
		return nil
	}
	return missing
}

// ExitCode maps an error to the process exit code for that failure class.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitInterrupted
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		return ExitFailure
	}
	switch ee.Class {
	case ErrorClassAborted:
		return ExitAborted
	case ErrorClassDependency:
		return ExitDependency
	case ErrorClassRollback:
		return ExitRollback
	case ErrorClassPersistence:
		return ExitPersistence
	case ErrorClassInterrupted:
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
