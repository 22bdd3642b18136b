package engine

import "fmt"

// RunMode is the resolved intent of an invocation.
type RunMode string

const (
	// ModeFresh runs the full range from phase 1, creating a rollback
	// point first.
	ModeFresh RunMode = "fresh"

	// ModeResume continues from the lowest incomplete phase.
	ModeResume RunMode = "resume"

	// ModeExplicitStart starts the range at an operator-chosen ordinal,
	// honoring recorded completion for that ordinal.
	ModeExplicitStart RunMode = "explicit-start"

	// ModeRestart starts at an operator-chosen ordinal and forces it to
	// re-execute even if recorded complete.
	ModeRestart RunMode = "restart"

	// ModeTestSingle runs exactly one phase, bypassing the range loop.
	ModeTestSingle RunMode = "test-single"

	// ModeRollback reverts to the last recorded rollback point.
	ModeRollback RunMode = "rollback"

	// ModeResetState clears the completion record.
	ModeResetState RunMode = "reset-state"

	// ModeList prints the phase catalog.
	ModeList RunMode = "list"

	// ModeShowInfo prints one phase's details.
	ModeShowInfo RunMode = "show-info"
)

// IsTerminal reports whether the mode bypasses the normal phase-range loop
// and exits after its single operation.
func (m RunMode) IsTerminal() bool {
	switch m {
	case ModeTestSingle, ModeRollback, ModeResetState, ModeList, ModeShowInfo:
		return true
	default:
		return false
	}
}

// Validate checks that the mode is a known value.
func (m RunMode) Validate() error {
	switch m {
	case ModeFresh, ModeResume, ModeExplicitStart, ModeRestart,
		ModeTestSingle, ModeRollback, ModeResetState, ModeList, ModeShowInfo:
		return nil
	default:
		return fmt.Errorf("invalid run mode: %q", m)
	}
}

// ResolveMode maps a validated RunConfig onto a single run mode, rejecting
// contradictory flag combinations instead of guessing.
func ResolveMode(cfg *RunConfig) (RunMode, error) {
	type terminalFlag struct {
		set  bool
		name string
		mode RunMode
	}
	terminals := []terminalFlag{
		{cfg.ListPhases, "--list-phases", ModeList},
		{cfg.ShowPhaseInfo > 0, "--show-phase-info", ModeShowInfo},
		{cfg.Rollback, "--rollback", ModeRollback},
		{cfg.ResetState, "--reset-state", ModeResetState},
		{cfg.TestPhase > 0, "--test-phase", ModeTestSingle},
	}

	var chosen []terminalFlag
	for _, t := range terminals {
		if t.set {
			chosen = append(chosen, t)
		}
	}
	if len(chosen) > 1 {
		return "", NewConfigError(
			fmt.Sprintf("%s and %s are mutually exclusive", chosen[0].name, chosen[1].name), nil)
	}

	if len(chosen) == 1 {
		mode := chosen[0].mode
		if cfg.DryRun && (mode == ModeRollback || mode == ModeResetState) {
			return "", NewConfigError(
				fmt.Sprintf("--dry-run cannot be combined with %s", chosen[0].name), nil)
		}
		return mode, nil
	}

	if cfg.StartFromPhase > 0 && cfg.RestartPhase > 0 {
		return "", NewConfigError("--start-from-phase and --restart-phase are mutually exclusive", nil)
	}
	if cfg.ForceUpdate && (cfg.StartFromPhase > 0 || cfg.RestartPhase > 0) {
		return "", NewConfigError("--force-update runs the full range; it cannot be combined with an explicit start phase", nil)
	}
	if cfg.FromSafePoint {
		if cfg.StartFromPhase > 0 || cfg.RestartPhase > 0 {
			return "", NewConfigError("--restart-from-safe-point computes its own start phase; it cannot be combined with an explicit one", nil)
		}
		if cfg.ForceUpdate {
			return "", NewConfigError("--restart-from-safe-point and --force-update are mutually exclusive", nil)
		}
		if !cfg.Resume {
			return "", NewConfigError("--restart-from-safe-point requires resume", nil)
		}
	}

	switch {
	case cfg.RestartPhase > 0:
		return ModeRestart, nil
	case cfg.StartFromPhase > 0:
		return ModeExplicitStart, nil
	case cfg.ForceUpdate || !cfg.Resume:
		return ModeFresh, nil
	default:
		return ModeResume, nil
	}
}
