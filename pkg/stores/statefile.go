package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// FileStateStore persists the completion record as a JSON file. Writes are
// atomic (temp file + fsync + rename), so a crash mid-write leaves the
// previous record intact and a concurrent reader never observes a torn
// write.
type FileStateStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStateStore creates a store backed by the file at path. The parent
// directory is created if needed.
func NewFileStateStore(path string) (*FileStateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{path: path}, nil
}

// Path returns the state file location, for watchers and status display.
func (s *FileStateStore) Path() string {
	return s.path
}

// Load reads the persisted record. A missing file yields an empty state
// with no error; an unreadable or corrupt file yields an empty state plus
// the error, so the caller can warn and start fresh. Unknown JSON fields
// are ignored for forward compatibility.
func (s *FileStateStore) Load(ctx context.Context) (*engine.ExecutionState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return engine.NewExecutionState(), nil
	}
	if err != nil {
		return engine.NewExecutionState(), fmt.Errorf("failed to read state file: %w", err)
	}

	state := engine.NewExecutionState()
	if err := json.Unmarshal(data, state); err != nil {
		return engine.NewExecutionState(), fmt.Errorf("state file %s is corrupt: %w", s.path, err)
	}
	if state.CompletedPhases == nil {
		state.CompletedPhases = []string{}
	}
	return state, nil
}

// MarkComplete adds the phase to the persisted record. The write is
// read-modify-write under a lock and lands atomically; the call does not
// return until the record is durable.
func (s *FileStateStore) MarkComplete(ctx context.Context, ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A corrupt existing record is replaced rather than propagated: the
	// caller already degraded to a fresh walk, and this write is that
	// walk's first durable completion.
	state, _ := s.Load(ctx)
	state.MarkComplete(ordinal)
	return s.write(state)
}

// IsComplete reports whether the persisted record marks ordinal complete.
func (s *FileStateStore) IsComplete(ctx context.Context, ordinal int) (bool, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return state.IsComplete(ordinal), nil
}

// Reset replaces the record with an empty one. The file is written, not
// removed, so watchers observe the reset.
func (s *FileStateStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(engine.NewExecutionState())
}

// write lands the record atomically: temp file in the same directory,
// fsync, then rename over the target.
func (s *FileStateStore) write(state *engine.ExecutionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	committed = true
	return nil
}
