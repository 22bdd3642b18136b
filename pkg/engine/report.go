package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// RunSummary aggregates per-phase outcomes for display.
type RunSummary struct {
	// Total is the number of phases in the catalog.
	Total int `json:"total"`

	// Executed counts phases actually invoked (attempts collapse to one).
	Executed int `json:"executed"`

	// Succeeded counts executed phases that completed.
	Succeeded int `json:"succeeded"`

	// Failed counts phases whose final outcome was failure.
	Failed int `json:"failed"`

	// Skipped counts explicit skips and failure-decision skips.
	Skipped int `json:"skipped"`

	// AlreadyComplete counts phases passed over because the state store
	// recorded them done.
	AlreadyComplete int `json:"already_complete"`
}

// RunReport is the final account of one run.
type RunReport struct {
	// RunID is the unique run identifier.
	RunID string `json:"run_id"`

	// Mode is the resolved run mode.
	Mode RunMode `json:"mode"`

	// DryRun marks a simulated run; nothing on disk changed.
	DryRun bool `json:"dry_run,omitempty"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// StartPhase is the ordinal the range started at (0 for terminal
	// modes that run no range).
	StartPhase int `json:"start_phase,omitempty"`

	// Results holds the final result per visited phase, in order.
	Results []*PhaseResult `json:"results,omitempty"`

	// Summary aggregates the results.
	Summary RunSummary `json:"summary"`

	// RollbackPoint is the point created by this run, if any.
	RollbackPoint *RollbackPoint `json:"rollback_point,omitempty"`

	// CompletedPhases is the completion record after the run (or, for
	// read-only modes, the record as read).
	CompletedPhases []string `json:"completed_phases,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`

	// Err is the terminal error, if any.
	Err error `json:"-"`
}

// summarize folds per-phase results into a summary.
func summarize(total int, results []*PhaseResult) RunSummary {
	s := RunSummary{Total: total}
	for _, r := range results {
		switch {
		case r.AlreadyComplete:
			s.AlreadyComplete++
		case r.Status == PhaseSkipped:
			s.Skipped++
		case r.Status == PhaseSucceeded:
			s.Executed++
			s.Succeeded++
		case r.Status == PhaseFailed:
			s.Executed++
			s.Failed++
		}
	}
	return s
}

// ResumeCommand returns the invocation that continues an unfinished run, or
// an empty string when there is nothing to resume.
func (r *RunReport) ResumeCommand() string {
	switch r.Status {
	case StatusFailed, StatusAborted, StatusInterrupted:
		return "stagecraft deploy --resume"
	default:
		return ""
	}
}

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true)
	reportOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71"))
	reportFailStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C"))
	reportWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F39C12"))
	reportMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

// RenderPhaseList writes the catalog as a table, marking each phase's
// completion status and safe restart points.
func RenderPhaseList(w io.Writer, registry *Registry, completed []string) {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	fmt.Fprintln(w, reportTitleStyle.Render("Deployment phases"))
	for _, p := range registry.All() {
		status := reportMutedStyle.Render("pending")
		if done[p.ID()] {
			status = reportOKStyle.Render("complete")
		}
		safe := " "
		if p.SafeRestartPoint {
			safe = "*"
		}
		fmt.Fprintf(w, "  %2d %s %-18s %s\n", p.Ordinal, safe, p.Name, status)
		fmt.Fprintf(w, "       %s\n", reportMutedStyle.Render(p.Description))
	}
	fmt.Fprintln(w, reportMutedStyle.Render("  * resuming after this phase is safe"))
}

// RenderPhaseInfo writes one phase's full descriptor and completion
// status.
func RenderPhaseInfo(w io.Writer, phase *Phase, completed []string) {
	done := false
	for _, id := range completed {
		if id == phase.ID() {
			done = true
			break
		}
	}

	fmt.Fprintln(w, reportTitleStyle.Render(fmt.Sprintf("Phase %d: %s", phase.Ordinal, phase.Name)))
	fmt.Fprintf(w, "  ID:                 %s\n", phase.ID())
	fmt.Fprintf(w, "  Description:        %s\n", phase.Description)

	deps := "none"
	if len(phase.Dependencies) > 0 {
		sorted := append([]int(nil), phase.Dependencies...)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for i, d := range sorted {
			parts[i] = fmt.Sprintf("%d", d)
		}
		deps = strings.Join(parts, ", ")
	}
	fmt.Fprintf(w, "  Dependencies:       %s\n", deps)
	fmt.Fprintf(w, "  Safe restart point: %v\n", phase.SafeRestartPoint)

	status := reportMutedStyle.Render("pending")
	if done {
		status = reportOKStyle.Render("complete")
	}
	fmt.Fprintf(w, "  Status:             %s\n", status)
}

// Render writes the human-readable account of the run.
func (r *RunReport) Render(w io.Writer) {
	fmt.Fprintln(w)
	header := r.headerLine()
	if r.DryRun {
		header += reportMutedStyle.Render("  (dry run, nothing was changed)")
	}
	fmt.Fprintln(w, header)

	for _, result := range r.Results {
		fmt.Fprintf(w, "  %s\n", resultLine(result))
	}

	s := r.Summary
	fmt.Fprintf(w, "  %s\n", reportMutedStyle.Render(fmt.Sprintf(
		"%d executed, %d succeeded, %d failed, %d skipped, %d already complete (of %d phases)",
		s.Executed, s.Succeeded, s.Failed, s.Skipped, s.AlreadyComplete, s.Total)))
	fmt.Fprintf(w, "  %s\n", reportMutedStyle.Render(fmt.Sprintf(
		"run %s finished in %s", r.RunID, r.Duration.Round(time.Millisecond))))

	if r.RollbackPoint != nil {
		fmt.Fprintf(w, "  %s\n", reportMutedStyle.Render(fmt.Sprintf(
			"rollback point: snapshot %s", r.RollbackPoint.SnapshotReference)))
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  %s\n", reportFailStyle.Render(r.Err.Error()))
	}
	if cmd := r.ResumeCommand(); cmd != "" {
		fmt.Fprintf(w, "  %s\n", reportMutedStyle.Render("resume with: "+cmd))
	}
}

func (r *RunReport) headerLine() string {
	switch r.Status {
	case StatusSucceeded:
		return reportOKStyle.Render("Deployment succeeded")
	case StatusRolledBack:
		return reportWarnStyle.Render("Deployment failed and was rolled back")
	case StatusAborted:
		return reportFailStyle.Render("Deployment aborted")
	case StatusInterrupted:
		return reportWarnStyle.Render("Deployment interrupted")
	case StatusFailed:
		return reportFailStyle.Render("Deployment failed")
	default:
		return reportTitleStyle.Render(fmt.Sprintf("Deployment %s", r.Status))
	}
}

func resultLine(result *PhaseResult) string {
	label := fmt.Sprintf("%-18s", result.PhaseID)
	switch {
	case result.AlreadyComplete:
		return fmt.Sprintf("%s %s", label, reportMutedStyle.Render("already complete"))
	case result.RolledBack:
		return fmt.Sprintf("%s %s", label, reportWarnStyle.Render("failed, rolled back"))
	case result.Status == PhaseSkipped:
		return fmt.Sprintf("%s %s", label, reportWarnStyle.Render("skipped"))
	case result.Status == PhaseFailed:
		return fmt.Sprintf("%s %s", label, reportFailStyle.Render(
			fmt.Sprintf("failed (exit code %d, %d attempts)", result.ExitCode, result.Attempts)))
	default:
		detail := result.Duration.Round(time.Millisecond).String()
		if result.Attempts > 1 {
			detail = fmt.Sprintf("%s, %d attempts", detail, result.Attempts)
		}
		return fmt.Sprintf("%s %s %s", label,
			reportOKStyle.Render("ok"), reportMutedStyle.Render("("+detail+")"))
	}
}
