package phases

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// SystemApply hands the rendered configuration to the external system
// builder. The builder owns the actual system mutation and its own
// generation history; this phase only invokes it and interprets the
// exit code.
type SystemApply struct {
	// Builder is the command to invoke, resolved relative to the
	// working directory. The rendered configuration path is appended as
	// the final argument.
	Builder []string
}

// NewSystemApply returns the system-apply phase with the default builder
// script shipped in the deployment repository.
func NewSystemApply() *SystemApply {
	return &SystemApply{Builder: []string{"./scripts/apply-system.sh"}}
}

// Execute implements engine.Implementation.
func (p *SystemApply) Execute(ctx context.Context, ec *engine.ExecContext) error {
	if len(p.Builder) == 0 {
		return fmt.Errorf("system builder command is not configured")
	}

	rendered := renderedConfigPath(ec.WorkDir)
	if _, err := os.Stat(rendered); err != nil {
		if os.IsNotExist(err) {
			return &engine.ExitError{
				Code:    11,
				Message: "rendered system configuration is missing; re-run the system-config phase",
			}
		}
		return fmt.Errorf("failed to stat rendered system config: %w", err)
	}

	args := append(append([]string(nil), p.Builder[1:]...), rendered)
	ec.Log.Infof("Invoking system builder: %s", strings.Join(p.Builder, " "))
	result, err := runHost(ctx, ec, p.Builder[0], args...)
	if err != nil {
		return err
	}
	ec.Log.Infof("System builder finished in %s", result.Duration)
	return nil
}
