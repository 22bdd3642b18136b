package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

// Snapshotter captures and reverts whole-system snapshots. Snapshot returns
// an opaque reference that Revert accepts later, possibly from a different
// process.
type Snapshotter interface {
	Snapshot(ctx context.Context, label string) (string, error)
	Revert(ctx context.Context, ref string) error
}

// RollbackStore persists the most recent rollback point. It is
// most-recent-wins: saving a point replaces the previous one.
type RollbackStore interface {
	// SavePoint durably replaces the recorded point.
	SavePoint(ctx context.Context, point *RollbackPoint) error

	// LoadPoint reads the recorded point. No recorded point yields
	// (nil, nil).
	LoadPoint(ctx context.Context) (*RollbackPoint, error)
}

// RollbackManager creates rollback points before fresh runs and reverts to
// them on demand. A failed revert is terminal: it is reported with
// remediation guidance and never triggers another rollback attempt, since
// recursing on a broken system can only make things worse.
type RollbackManager struct {
	store   RollbackStore
	snapper Snapshotter
}

// NewRollbackManager creates a manager over the given store and snapshotter.
func NewRollbackManager(store RollbackStore, snapper Snapshotter) *RollbackManager {
	return &RollbackManager{store: store, snapper: snapper}
}

// CreatePoint captures a snapshot and records it as the rollback point.
// Called once, before phase 1 of a fresh run; a resumed run keeps the point
// its original fresh run captured.
func (m *RollbackManager) CreatePoint(ctx context.Context, label, runID string) (*RollbackPoint, error) {
	log := telemetry.FromContext(ctx)

	ref, err := m.snapper.Snapshot(ctx, label)
	if err != nil {
		return nil, NewRollbackError("failed to capture snapshot", err).WithCode(ErrCodeSnapshotFailed)
	}

	point := &RollbackPoint{
		Label:             label,
		SnapshotReference: ref,
		RunID:             runID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.store.SavePoint(ctx, point); err != nil {
		return nil, NewPersistenceError("rollback.save_point",
			"failed to record rollback point", err)
	}

	log.WithSnapshot(ref).WithField("label", label).Info("Rollback point created")
	return point, nil
}

// Rollback reverts to point. A nil point loads the last recorded one.
func (m *RollbackManager) Rollback(ctx context.Context, point *RollbackPoint) error {
	log := telemetry.FromContext(ctx)
	tel := telemetry.FromTelemetryContext(ctx)

	if point == nil {
		loaded, err := m.store.LoadPoint(ctx)
		if err != nil {
			return NewPersistenceError("rollback.load_point",
				"failed to read rollback point", err)
		}
		if loaded == nil {
			return NewRollbackError("no rollback point recorded: only fresh runs create one", nil).
				WithCode(ErrCodeNoRollbackPoint)
		}
		point = loaded
	}

	var rollbackCtx context.Context = ctx
	if tel != nil && tel.Tracer != nil {
		newCtx, span := tel.Tracer.StartRollbackSpan(ctx, point.SnapshotReference)
		rollbackCtx = newCtx
		defer span.End()
	}

	log.WithSnapshot(point.SnapshotReference).
		WithField("label", point.Label).
		Info("Rolling back to snapshot")

	if err := m.snapper.Revert(rollbackCtx, point.SnapshotReference); err != nil {
		if tel != nil {
			tel.Metrics.RecordRollback("error")
			telemetry.RecordError(telemetry.SpanFromContext(rollbackCtx), err)
		}
		return NewRollbackError(
			fmt.Sprintf("revert to snapshot %s failed; the system may be partially reverted. "+
				"Inspect the snapshot with your snapshot tooling and restore it manually before retrying",
				point.SnapshotReference), err)
	}

	if tel != nil {
		tel.Metrics.RecordRollback("ok")
	}
	log.WithSnapshot(point.SnapshotReference).Info("Rollback complete")
	return nil
}

// LastPoint returns the recorded rollback point, or nil when none exists.
func (m *RollbackManager) LastPoint(ctx context.Context) (*RollbackPoint, error) {
	point, err := m.store.LoadPoint(ctx)
	if err != nil {
		return nil, NewPersistenceError("rollback.load_point",
			"failed to read rollback point", err)
	}
	return point, nil
}
