package engine_test

import (
	"context"
	"fmt"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// Example_deployment demonstrates how the orchestration types compose in a
// typical stagecraft run.
func Example_deployment() {
	// 1. Describe the phase catalog. Ordinals are contiguous from 1 and
	// dependencies always point at earlier phases.
	phases := []engine.Phase{
		{Ordinal: 1, Name: "preparation", Description: "verify tooling", SafeRestartPoint: true},
		{Ordinal: 2, Name: "backup", Description: "archive current config", Dependencies: []int{1}, SafeRestartPoint: true},
		{Ordinal: 3, Name: "install", Description: "apply the new configuration", Dependencies: []int{1, 2}},
	}
	registry, _ := engine.NewRegistry(phases)

	// 2. Bind an implementation to every ordinal. The return contract is
	// tri-state: nil is success, *ExitError is a failure with a known
	// code, anything else is a fault.
	impls := map[int]engine.Implementation{
		1: engine.ImplementationFunc(func(ctx context.Context, ec *engine.ExecContext) error {
			return nil
		}),
		2: engine.ImplementationFunc(func(ctx context.Context, ec *engine.ExecContext) error {
			return nil
		}),
		3: engine.ImplementationFunc(func(ctx context.Context, ec *engine.ExecContext) error {
			return &engine.ExitError{Code: 12, Message: "package install failed"}
		}),
	}

	// 3. Configure the invocation. A bare config resumes from the lowest
	// incomplete phase; flags map onto the same structure.
	cfg := engine.DefaultRunConfig()
	cfg.DryRun = true
	mode, _ := engine.ResolveMode(cfg)

	// 4. Failures map onto process exit codes by class, so wrapper
	// scripts can react without parsing output.
	failure := engine.NewExecutionError("phase-03", 3, &engine.ExitError{Code: 12})
	exit := engine.ExitCode(failure)

	fmt.Println(registry.Count(), mode, exit)
	_ = impls
	// Output: 3 resume 1
}

// Example_failureDecisions demonstrates the decision contract for phase
// failures in non-interactive runs.
func Example_failureDecisions() {
	// The policy provider resolves failures deterministically. Retry
	// consumes a bounded budget and then aborts; rollback is reserved
	// for operators.
	provider, _ := engine.NewPolicyDecisionProvider(engine.PolicyRetry, 2)

	failure := &engine.PhaseFailure{
		Phase:   &engine.Phase{Ordinal: 4, Name: "dev-tools"},
		Result:  &engine.PhaseResult{PhaseID: "phase-04", Status: engine.PhaseFailed, ExitCode: 12},
		Attempt: 1,
	}

	decision, _ := provider.Decide(context.Background(), failure)
	fmt.Println(decision)
	// Output: retry
}
