package engine

import (
	"context"
	"fmt"
	"sort"
)

// PhaseID returns the stable identifier for a phase ordinal, e.g. ordinal 3
// becomes "phase-03". Identifiers sort lexically in ordinal order.
func PhaseID(ordinal int) string {
	return fmt.Sprintf("phase-%02d", ordinal)
}

// ParsePhaseID extracts the ordinal from a phase identifier.
func ParsePhaseID(id string) (int, error) {
	var ordinal int
	if _, err := fmt.Sscanf(id, "phase-%d", &ordinal); err != nil {
		return 0, fmt.Errorf("invalid phase id %q: %w", id, err)
	}
	if ordinal < 1 {
		return 0, fmt.Errorf("invalid phase id %q: ordinal must be >= 1", id)
	}
	return ordinal, nil
}

// ExecutionState is the persisted completion record. The completed set only
// grows during a run; explicit reset and restart are the only ways an entry
// leaves it. Readers must ignore unknown fields so older orchestrators can
// read newer state files.
type ExecutionState struct {
	// CompletedPhases lists the IDs of phases that have completed, in
	// ordinal order.
	CompletedPhases []string `json:"completedPhases"`
}

// NewExecutionState returns an empty completion record.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{CompletedPhases: []string{}}
}

// IsComplete reports whether the phase at ordinal is recorded complete.
func (s *ExecutionState) IsComplete(ordinal int) bool {
	id := PhaseID(ordinal)
	for _, p := range s.CompletedPhases {
		if p == id {
			return true
		}
	}
	return false
}

// MarkComplete records the phase at ordinal as complete. Marking an
// already-complete phase is a no-op.
func (s *ExecutionState) MarkComplete(ordinal int) {
	if s.IsComplete(ordinal) {
		return
	}
	s.CompletedPhases = append(s.CompletedPhases, PhaseID(ordinal))
	sort.Strings(s.CompletedPhases)
}

// Reset empties the completed set.
func (s *ExecutionState) Reset() {
	s.CompletedPhases = []string{}
}

// CompletedOrdinals returns the completed ordinals in ascending order.
// Entries that do not parse as phase IDs are ignored.
func (s *ExecutionState) CompletedOrdinals() []int {
	ordinals := make([]int, 0, len(s.CompletedPhases))
	for _, id := range s.CompletedPhases {
		ordinal, err := ParsePhaseID(id)
		if err != nil {
			continue
		}
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)
	return ordinals
}

// HighestCompleted returns the largest completed ordinal, or 0 when
// nothing is complete.
func (s *ExecutionState) HighestCompleted() int {
	highest := 0
	for _, ordinal := range s.CompletedOrdinals() {
		if ordinal > highest {
			highest = ordinal
		}
	}
	return highest
}

// Clone returns an independent copy of the state.
func (s *ExecutionState) Clone() *ExecutionState {
	completed := make([]string, len(s.CompletedPhases))
	copy(completed, s.CompletedPhases)
	return &ExecutionState{CompletedPhases: completed}
}

// StateStore persists the completion record across process restarts.
type StateStore interface {
	// Load reads the persisted state. A missing record yields an empty
	// state and no error. A corrupt record yields an empty state and an
	// error so the caller can warn and continue fresh.
	Load(ctx context.Context) (*ExecutionState, error)

	// MarkComplete durably records the phase at ordinal as complete.
	// It must not return until the write is persisted.
	MarkComplete(ctx context.Context, ordinal int) error

	// IsComplete reports whether the persisted record marks ordinal
	// complete.
	IsComplete(ctx context.Context, ordinal int) (bool, error)

	// Reset durably replaces the record with an empty one.
	Reset(ctx context.Context) error
}
