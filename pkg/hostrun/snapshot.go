package hostrun

import (
	"context"
	"fmt"
	"strings"
)

// CommandSnapshotter captures and reverts system snapshots by shelling out
// to configured tooling (btrfs, timeshift, snapper, or anything else that
// follows the same contract).
//
// The snapshot command is invoked with the point label appended as its last
// argument and must print the snapshot reference on stdout. The revert
// command is invoked with that reference appended as its last argument.
type CommandSnapshotter struct {
	runner       Runner
	snapshotArgv []string
	revertArgv   []string
}

// NewCommandSnapshotter creates a snapshotter backed by runner.
func NewCommandSnapshotter(runner Runner, snapshotArgv, revertArgv []string) (*CommandSnapshotter, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if len(snapshotArgv) == 0 {
		return nil, fmt.Errorf("snapshot command is required")
	}
	if len(revertArgv) == 0 {
		return nil, fmt.Errorf("revert command is required")
	}
	return &CommandSnapshotter{
		runner:       runner,
		snapshotArgv: snapshotArgv,
		revertArgv:   revertArgv,
	}, nil
}

// Snapshot captures a snapshot tagged with label and returns its reference.
func (s *CommandSnapshotter) Snapshot(ctx context.Context, label string) (string, error) {
	argv := append(append([]string{}, s.snapshotArgv...), label)

	result, err := s.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return "", fmt.Errorf("snapshot command failed to run: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("snapshot command exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	ref := strings.TrimSpace(result.Stdout)
	if ref == "" {
		return "", fmt.Errorf("snapshot command produced no reference on stdout")
	}
	return ref, nil
}

// Revert restores the system to the snapshot identified by ref.
func (s *CommandSnapshotter) Revert(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("snapshot reference is required")
	}

	argv := append(append([]string{}, s.revertArgv...), ref)

	result, err := s.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return fmt.Errorf("revert command failed to run: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("revert command exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
