package engine

// DependencyValidator checks a phase's dependencies against the completion
// record before the phase runs. A violation is surfaced, never auto-resolved:
// the operator resumes from the correct point instead.
type DependencyValidator struct {
	registry *Registry
}

// NewDependencyValidator creates a validator over the given catalog.
func NewDependencyValidator(registry *Registry) *DependencyValidator {
	return &DependencyValidator{registry: registry}
}

// Validate reports whether every dependency of the phase at ordinal is
// complete in state. It returns a dependency error listing the missing
// ordinals, or nil when the phase may run.
func (v *DependencyValidator) Validate(ordinal int, state *ExecutionState) error {
	phase, err := v.registry.Describe(ordinal)
	if err != nil {
		return err
	}

	var missing []int
	for _, dep := range phase.Dependencies {
		if !state.IsComplete(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return NewDependencyError(phase.ID(), ordinal, missing)
	}
	return nil
}
