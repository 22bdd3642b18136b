package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/stagecraft/pkg/engine"
	"github.com/stagecraft/stagecraft/pkg/hostrun"
	"github.com/stagecraft/stagecraft/pkg/phases"
	"github.com/stagecraft/stagecraft/pkg/stores"
	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

// Snapshot tooling shipped by the deployment repository. When the create
// script is absent the run proceeds without a rollback point.
var (
	snapshotCreateArgv = []string{"./scripts/snapshot-create.sh"}
	snapshotRevertArgv = []string{"./scripts/snapshot-revert.sh"}
)

func newDeployCommand() *cobra.Command {
	var (
		dryRun         bool
		noResume       bool
		forceUpdate    bool
		startFrom      int
		restartPhase   int
		fromSafePoint  bool
		skipPhases     []int
		testPhase      int
		listPhases     bool
		showPhaseInfo  int
		rollback       bool
		resetState     bool
		onFailure      string
		maxRetries     int
		nonInteractive bool
		metricsListen  string
		traceExporter  string
		otlpEndpoint   string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deployment phases in order",
		Long: `Run the deployment phases in order, recording each completion.

Progress is persisted after every phase, so an interrupted deployment
picks up where it stopped on the next invocation (the default). A fresh
run first captures a rollback snapshot when the repository ships
snapshot tooling; a failed phase can then be retried, skipped, or
rolled back to that snapshot, interactively on a terminal or by policy
everywhere else.`,
		Example: `  # Fresh deployment, or resume if a previous run left progress
  stagecraft deploy

  # Preview what would run without changing anything
  stagecraft deploy --dry-run

  # Resume, re-executing everything after the last safe restart point
  stagecraft deploy --restart-from-safe-point

  # Re-run a single phase regardless of recorded completion
  stagecraft deploy --test-phase 6

  # Unattended run that retries failing phases twice, then aborts
  stagecraft deploy --non-interactive --on-failure retry

  # Roll the system back to the pre-deployment snapshot
  stagecraft deploy --rollback`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			telCfg := telemetry.DefaultConfig()
			telCfg.ServiceVersion = cmd.Root().Version
			telCfg.Logging.Level = logLevel
			telCfg.Logging.Format = logFormat
			if metricsListen != "" {
				telCfg.Metrics.Enabled = true
				telCfg.Metrics.ListenAddress = metricsListen
			}
			if traceExporter != "" && traceExporter != "none" {
				telCfg.Tracing.Enabled = true
				telCfg.Tracing.Exporter = traceExporter
				telCfg.Tracing.Endpoint = otlpEndpoint
			}

			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return err
			}
			ctx = tel.WithContext(ctx)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					tel.Logger.WithError(err).Warn("Telemetry shutdown incomplete")
				}
			}()
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			cfg := engine.DefaultRunConfig()
			cfg.DryRun = dryRun
			cfg.Resume = !noResume
			cfg.ForceUpdate = forceUpdate
			cfg.StartFromPhase = startFrom
			cfg.RestartPhase = restartPhase
			cfg.FromSafePoint = fromSafePoint
			cfg.SkipPhases = skipPhases
			cfg.TestPhase = testPhase
			cfg.ListPhases = listPhases
			cfg.ShowPhaseInfo = showPhaseInfo
			cfg.Rollback = rollback
			cfg.ResetState = resetState
			cfg.OnFailure = onFailure
			cfg.MaxRetries = maxRetries
			cfg.NonInteractive = nonInteractive
			cfg.WorkDir = workDir

			registry, impls, err := phases.Catalog()
			if err != nil {
				return err
			}

			sd := resolveStateDir()
			store, err := stores.NewFileStateStore(filepath.Join(sd, stateFileName))
			if err != nil {
				return err
			}

			host := hostrun.NewLocalRunner(workDir)
			rollbackMgr, err := newRollbackManager(sd, host, tel.Logger)
			if err != nil {
				return err
			}

			var journal engine.Journal
			if !dryRun && !listPhases && showPhaseInfo == 0 {
				j, jerr := openJournal(ctx, filepath.Join(sd, journalFileName))
				if jerr != nil {
					// History is best-effort; a broken journal must not
					// block a deployment.
					tel.Logger.WithError(jerr).Warn("Run journal unavailable, continuing without history")
				} else {
					journal = j
					defer j.Close()
				}
			}

			orch, err := engine.NewOrchestrator(engine.OrchestratorOptions{
				Config:          cfg,
				Registry:        registry,
				Implementations: impls,
				Store:           store,
				Rollback:        rollbackMgr,
				Journal:         journal,
				Host:            host,
			})
			if err != nil {
				return err
			}

			report, err := orch.Execute(ctx)
			out := cmd.OutOrStdout()

			switch orch.Mode() {
			case engine.ModeList:
				if report != nil {
					engine.RenderPhaseList(out, registry, report.CompletedPhases)
				}
			case engine.ModeShowInfo:
				if report != nil {
					phase, derr := registry.Describe(showPhaseInfo)
					if derr != nil {
						return derr
					}
					engine.RenderPhaseInfo(out, phase, report.CompletedPhases)
				}
			case engine.ModeResetState:
				if err == nil {
					fmt.Fprintln(out, "Completion state cleared.")
				}
			case engine.ModeRollback:
				if err == nil {
					fmt.Fprintln(out, "System rolled back to the pre-deployment snapshot.")
				}
			default:
				if report != nil {
					report.Render(out)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report intended actions without executing or persisting anything")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore recorded progress and run every phase")
	cmd.Flags().BoolVar(&forceUpdate, "force-update", false, "redo the full deployment even if phases are recorded complete")
	cmd.Flags().IntVar(&startFrom, "start-from-phase", 0, "start the range at phase N")
	cmd.Flags().IntVar(&restartPhase, "restart-phase", 0, "force phase N to re-execute, then continue the range")
	cmd.Flags().BoolVar(&fromSafePoint, "restart-from-safe-point", false, "resume from just after the last completed safe restart point")
	cmd.Flags().IntSliceVar(&skipPhases, "skip-phase", nil, "skip phase N without marking it complete (repeatable)")
	cmd.Flags().IntVar(&testPhase, "test-phase", 0, "run exactly phase N and stop")
	cmd.Flags().BoolVar(&listPhases, "list-phases", false, "list the phase catalog with completion status")
	cmd.Flags().IntVar(&showPhaseInfo, "show-phase-info", 0, "show phase N's descriptor and status")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the system to the last recorded rollback point")
	cmd.Flags().BoolVar(&resetState, "reset-state", false, "clear the completion record")
	cmd.Flags().StringVar(&onFailure, "on-failure", engine.PolicyAbort, "non-interactive failure policy (abort, retry, skip)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 2, "retries per phase before the retry policy aborts")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; apply the failure policy")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP collector endpoint for --trace-exporter otlp")

	return cmd
}

// newRollbackManager wires snapshot tooling when the deployment
// repository ships it. Without the create script the deployment still
// runs; it just cannot offer rollback.
func newRollbackManager(stateDir string, host hostrun.Runner, log *telemetry.Logger) (*engine.RollbackManager, error) {
	if _, err := os.Stat(filepath.Join(workDir, "scripts", "snapshot-create.sh")); err != nil {
		log.Debug("Snapshot tooling not found, rollback points disabled")
		return nil, nil
	}

	rollbackStore, err := stores.NewFileRollbackStore(filepath.Join(stateDir, rollbackFileName))
	if err != nil {
		return nil, err
	}
	snapper, err := hostrun.NewCommandSnapshotter(host, snapshotCreateArgv, snapshotRevertArgv)
	if err != nil {
		return nil, err
	}
	return engine.NewRollbackManager(rollbackStore, snapper), nil
}

// openJournal opens and migrates the sqlite run journal.
func openJournal(ctx context.Context, path string) (*stores.SQLiteJournal, error) {
	journal, err := stores.NewSQLiteJournal(stores.JournalConfig{Path: path})
	if err != nil {
		return nil, err
	}
	if err := journal.Init(ctx); err != nil {
		return nil, err
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		return nil, err
	}
	return journal, nil
}
