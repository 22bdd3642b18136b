package engine

import (
	"context"
	"fmt"

	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

// Decision is an operator or policy response to a phase failure.
type Decision string

const (
	// DecisionRetry re-invokes the failed phase from the top.
	DecisionRetry Decision = "retry"

	// DecisionSkip marks the phase skipped and continues. The phase is
	// NOT marked complete, so later phases depending on it will fail
	// dependency validation.
	DecisionSkip Decision = "skip"

	// DecisionRollback reverts to the recorded rollback point and stops.
	DecisionRollback Decision = "rollback"

	// DecisionAbort stops the run, leaving state exactly as it was
	// before the failed phase.
	DecisionAbort Decision = "abort"
)

// Validate checks that the decision is a known value.
func (d Decision) Validate() error {
	switch d {
	case DecisionRetry, DecisionSkip, DecisionRollback, DecisionAbort:
		return nil
	default:
		return fmt.Errorf("invalid decision: %q", d)
	}
}

// PhaseFailure describes one failed phase invocation for decision-making.
type PhaseFailure struct {
	// Phase is the failed phase.
	Phase *Phase

	// Result is the failing invocation's result.
	Result *PhaseResult

	// Attempt is how many times the phase has been invoked this run,
	// including the failing one.
	Attempt int
}

// DecisionProvider resolves a phase failure into one of the four decisions.
type DecisionProvider interface {
	Decide(ctx context.Context, failure *PhaseFailure) (Decision, error)
}

// PolicyDecisionProvider resolves failures deterministically from a
// configured policy. Rollback is deliberately not a policy value:
// reverting a system without an operator present is riskier than
// aborting with state intact.
type PolicyDecisionProvider struct {
	policy     string
	maxRetries int
}

// NewPolicyDecisionProvider creates a provider for the given policy.
func NewPolicyDecisionProvider(policy string, maxRetries int) (*PolicyDecisionProvider, error) {
	switch policy {
	case PolicyAbort, PolicyRetry, PolicySkip:
	default:
		return nil, NewConfigError(
			fmt.Sprintf("invalid failure policy %q: must be abort, retry, or skip", policy), nil)
	}
	if maxRetries < 0 {
		return nil, NewConfigError("max retries must be >= 0", nil)
	}
	return &PolicyDecisionProvider{policy: policy, maxRetries: maxRetries}, nil
}

// Decide applies the policy. The retry policy retries until the phase has
// consumed its retry budget, then aborts.
func (p *PolicyDecisionProvider) Decide(ctx context.Context, failure *PhaseFailure) (Decision, error) {
	log := telemetry.FromContext(ctx).WithPhase(failure.Phase.ID(), failure.Phase.Ordinal)

	switch p.policy {
	case PolicyRetry:
		retriesUsed := failure.Attempt - 1
		if retriesUsed >= p.maxRetries {
			log.WithField("attempts", failure.Attempt).
				Warn("Retry budget exhausted, aborting")
			return DecisionAbort, nil
		}
		log.WithField("attempt", failure.Attempt).
			WithField("max_retries", p.maxRetries).
			Info("Policy decision: retry")
		return DecisionRetry, nil

	case PolicySkip:
		log.Warn("Policy decision: skip failed phase")
		return DecisionSkip, nil

	default:
		log.Info("Policy decision: abort")
		return DecisionAbort, nil
	}
}
