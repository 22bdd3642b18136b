// Package engine provides the core types and components of the stagecraft
// deployment orchestrator.
//
// # Overview
//
// Stagecraft drives an ordered sequence of deployment phases against a
// single host. Each phase is an opaque implementation with declared
// dependencies on earlier phases; the engine guarantees that a phase runs
// only after its dependencies completed, that completions are durably
// recorded before the next phase starts, and that an interrupted run can
// resume where it left off. The workflow is a strict chain in practice,
// but dependency validation is written generally.
//
// # Components
//
// A run flows through a fixed set of collaborators:
//
//   - Registry: the immutable, validated phase catalog
//   - StateStore: the persisted completion record (atomic replace-on-write)
//   - DependencyValidator: checks prerequisites immediately before every
//     phase execution, including phases reached via resume
//   - PhaseRunner: executes one phase and records its completion
//   - DecisionProvider: resolves phase failures (retry/skip/rollback/abort),
//     interactively on a terminal or from a configured policy
//   - RollbackManager: captures a snapshot before a workflow's first run
//     and reverts to it on demand
//   - Orchestrator: resolves the run mode and drives the range loop
//
// # Run Modes
//
// An invocation resolves to exactly one RunMode. Fresh runs execute the
// full range and create a rollback point first; resume continues from the
// lowest incomplete phase; explicit-start and restart begin at an operator
// chosen ordinal; test-single runs one phase and stops. The list,
// show-info, rollback, and reset-state modes are terminal operations that
// bypass the range loop entirely.
//
// # Error Classification
//
// Engine errors carry an ErrorClass that maps onto a distinct process exit
// code, so scripted callers can tell an operator abort from a dependency
// violation from a failed rollback:
//
//	report, err := orch.Execute(ctx)
//	os.Exit(engine.ExitCode(err))
//
// # Execution Model
//
// Execution is strictly sequential: phases mutate shared system state, so
// only one runs at a time and the orchestrator blocks on each before
// evaluating the next. Phase implementations must tolerate re-running; a
// process killed mid-phase resumes by re-executing the interrupted phase.
package engine
