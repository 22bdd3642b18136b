package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/stagecraft/stagecraft/pkg/engine"
	"github.com/stagecraft/stagecraft/pkg/phases"
	"github.com/stagecraft/stagecraft/pkg/stores"
	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

func newStatusCommand() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment progress",
		Long: `Show which phases are recorded complete and which are pending.

Status only reads the state file, and state writes are atomic, so it is
safe to run while a deployment is in progress. With --follow it
re-renders whenever the state file changes, until interrupted.`,
		Example: `  # One-shot progress view
  stagecraft status

  # Live view during a running deployment
  stagecraft status --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger()
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx)

			registry, _, err := phases.Catalog()
			if err != nil {
				return err
			}
			store, err := stores.NewFileStateStore(filepath.Join(resolveStateDir(), stateFileName))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderStatus(ctx, out, registry, store)
			if !follow {
				return nil
			}
			return followStatus(ctx, out, registry, store)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "re-render whenever the state file changes")

	return cmd
}

// renderStatus draws the phase table against the current completion
// record. A corrupt record renders as empty, matching how a deployment
// would treat it, with a warning rather than a failure.
func renderStatus(ctx context.Context, w io.Writer, registry *engine.Registry, store *stores.FileStateStore) {
	state, err := store.Load(ctx)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Completion state unreadable, showing empty progress")
	}

	engine.RenderPhaseList(w, registry, state.CompletedPhases)
	fmt.Fprintf(w, "%d of %d phases complete\n", len(state.CompletedPhases), registry.Count())
}

// followStatus re-renders on every state file change until the context
// is cancelled.
func followStatus(ctx context.Context, w io.Writer, registry *engine.Registry, store *stores.FileStateStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: state writes land by rename,
	// which would leave a watch on the file itself pointing at the old
	// inode.
	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	target := filepath.Base(store.Path())
	redraw := time.NewTimer(time.Hour)
	redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: a rename right after a write redraws once.
			redraw.Reset(200 * time.Millisecond)

		case <-redraw.C:
			fmt.Fprintln(w)
			renderStatus(ctx, w, registry, store)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			telemetry.FromContext(ctx).WithError(werr).Warn("State watcher error")
		}
	}
}
