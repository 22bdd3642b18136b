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

// FileRollbackStore persists the rollback point as a single JSON record.
// It is most-recent-wins: saving a point replaces whatever was there, and
// the write lands atomically like the state file's.
type FileRollbackStore struct {
	mu   sync.Mutex
	path string
}

// NewFileRollbackStore creates a store backed by the file at path.
func NewFileRollbackStore(path string) (*FileRollbackStore, error) {
	if path == "" {
		return nil, fmt.Errorf("rollback record path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create rollback record directory: %w", err)
	}
	return &FileRollbackStore{path: path}, nil
}

// Path returns the record's location.
func (s *FileRollbackStore) Path() string {
	return s.path
}

// SavePoint durably replaces the recorded point.
func (s *FileRollbackStore) SavePoint(ctx context.Context, point *engine.RollbackPoint) error {
	if point == nil {
		return fmt.Errorf("rollback point is required")
	}
	if point.SnapshotReference == "" {
		return fmt.Errorf("rollback point has no snapshot reference")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rollback point: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rollback-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp rollback record: %w", err)
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
		return fmt.Errorf("failed to write rollback record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync rollback record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close rollback record: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace rollback record: %w", err)
	}
	committed = true
	return nil
}

// LoadPoint reads the recorded point. No record yields (nil, nil).
func (s *FileRollbackStore) LoadPoint(ctx context.Context) (*engine.RollbackPoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rollback record: %w", err)
	}

	point := &engine.RollbackPoint{}
	if err := json.Unmarshal(data, point); err != nil {
		return nil, fmt.Errorf("rollback record %s is corrupt: %w", s.path, err)
	}
	if point.SnapshotReference == "" {
		return nil, fmt.Errorf("rollback record %s has no snapshot reference", s.path)
	}
	return point, nil
}
