package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

var (
	promptErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C"))
	promptOptionStyle = lipgloss.NewStyle().Bold(true)
	promptHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

// TerminalIsInteractive reports whether both stdin and stdout are attached
// to a terminal, so a failure prompt can actually reach an operator.
func TerminalIsInteractive() bool {
	stdinTTY := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	return stdinTTY && stdoutTTY
}

// InteractiveDecisionProvider prompts the operator on a phase failure and
// reads one of the four decisions from the terminal.
type InteractiveDecisionProvider struct {
	in  *bufio.Reader
	out io.Writer
}

// NewInteractiveDecisionProvider creates a provider reading from stdin and
// writing to stdout.
func NewInteractiveDecisionProvider() *InteractiveDecisionProvider {
	return &InteractiveDecisionProvider{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
}

// NewInteractiveDecisionProviderWith creates a provider over explicit
// streams, for testing.
func NewInteractiveDecisionProviderWith(in io.Reader, out io.Writer) *InteractiveDecisionProvider {
	return &InteractiveDecisionProvider{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Decide renders the failure menu and blocks until the operator picks a
// decision. A closed input stream resolves to abort, never to continuing
// blind.
func (p *InteractiveDecisionProvider) Decide(ctx context.Context, failure *PhaseFailure) (Decision, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, promptErrorStyle.Render(fmt.Sprintf(
		"Phase %d (%s) failed with exit code %d on attempt %d.",
		failure.Phase.Ordinal, failure.Phase.Name, failure.Result.ExitCode, failure.Attempt)))
	if failure.Result.Err != nil {
		fmt.Fprintf(p.out, "  %v\n", failure.Result.Err)
	}
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "  %s retry the phase\n", promptOptionStyle.Render("[r]"))
	fmt.Fprintf(p.out, "  %s skip it and continue\n", promptOptionStyle.Render("[s]"))
	fmt.Fprintf(p.out, "  %s roll back to the last snapshot\n", promptOptionStyle.Render("[b]"))
	fmt.Fprintf(p.out, "  %s abort the run\n", promptOptionStyle.Render("[a]"))
	fmt.Fprintln(p.out, promptHintStyle.Render("  (skipped phases stay incomplete; later phases that need them will not run)"))

	for {
		select {
		case <-ctx.Done():
			return DecisionAbort, ctx.Err()
		default:
		}

		fmt.Fprint(p.out, "> ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			// EOF or a broken stdin means nobody is answering.
			telemetry.FromContext(ctx).WithError(err).Warn("Failure prompt input closed, aborting")
			return DecisionAbort, nil
		}

		switch strings.TrimSpace(strings.ToLower(line)) {
		case "r", "retry":
			return DecisionRetry, nil
		case "s", "skip":
			return DecisionSkip, nil
		case "b", "rollback":
			return DecisionRollback, nil
		case "a", "abort", "q", "quit":
			return DecisionAbort, nil
		default:
			fmt.Fprintln(p.out, "Please answer r, s, b, or a.")
		}
	}
}
