package engine

import (
	"fmt"
	"sort"
)

// Registry holds the validated, ordered phase catalog. It is immutable
// after construction; every lookup during a run goes through it.
type Registry struct {
	phases    []Phase
	byOrdinal map[int]*Phase
}

// NewRegistry validates the catalog and builds the registry. Ordinals must
// be contiguous from 1, names unique, and dependencies must point at
// earlier phases.
func NewRegistry(phases []Phase) (*Registry, error) {
	if len(phases) == 0 {
		return nil, NewConfigError("phase catalog is empty", nil).WithCode(ErrCodeInvalidCatalog)
	}

	sorted := make([]Phase, len(phases))
	copy(sorted, phases)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	byOrdinal := make(map[int]*Phase, len(sorted))
	names := make(map[string]int, len(sorted))

	for i := range sorted {
		p := &sorted[i]

		if p.Ordinal != i+1 {
			return nil, NewConfigError(
				fmt.Sprintf("phase ordinals must be contiguous from 1: expected %d, found %d (%s)", i+1, p.Ordinal, p.Name),
				nil).WithCode(ErrCodeInvalidCatalog)
		}
		if p.Name == "" {
			return nil, NewConfigError(
				fmt.Sprintf("phase %d has no name", p.Ordinal),
				nil).WithCode(ErrCodeInvalidCatalog)
		}
		if prev, dup := names[p.Name]; dup {
			return nil, NewConfigError(
				fmt.Sprintf("duplicate phase name %q (ordinals %d and %d)", p.Name, prev, p.Ordinal),
				nil).WithCode(ErrCodeInvalidCatalog)
		}
		names[p.Name] = p.Ordinal

		for _, dep := range p.Dependencies {
			if dep < 1 {
				return nil, NewConfigError(
					fmt.Sprintf("phase %d (%s) has invalid dependency %d", p.Ordinal, p.Name, dep),
					nil).WithCode(ErrCodeInvalidCatalog)
			}
			if dep >= p.Ordinal {
				return nil, NewConfigError(
					fmt.Sprintf("phase %d (%s) depends on %d: dependencies must point at earlier phases", p.Ordinal, p.Name, dep),
					nil).WithCode(ErrCodeInvalidCatalog)
			}
		}

		byOrdinal[p.Ordinal] = p
	}

	return &Registry{phases: sorted, byOrdinal: byOrdinal}, nil
}

// Count returns the number of phases in the catalog.
func (r *Registry) Count() int {
	return len(r.phases)
}

// All returns the phases in ordinal order.
func (r *Registry) All() []Phase {
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

// Describe returns the phase at ordinal. An unknown ordinal is a
// configuration error, never clamped.
func (r *Registry) Describe(ordinal int) (*Phase, error) {
	p, ok := r.byOrdinal[ordinal]
	if !ok {
		return nil, NewConfigError(
			fmt.Sprintf("unknown phase %d: valid range is 1..%d", ordinal, len(r.phases)),
			nil).WithCode(ErrCodeUnknownPhase)
	}
	return p, nil
}
