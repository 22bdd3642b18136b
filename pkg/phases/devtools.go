package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// DevTools installs developer toolchains through the deployment
// repository's install script, one invocation per tool so a single
// broken tool does not block the rest.
type DevTools struct {
	// Installer is the command invoked once per tool with the tool name
	// appended, resolved relative to the working directory.
	Installer []string
}

// NewDevTools returns the dev-tools phase with the default installer
// script shipped in the deployment repository.
func NewDevTools() *DevTools {
	return &DevTools{Installer: []string{"./scripts/install-dev-tool.sh"}}
}

// Execute implements engine.Implementation.
func (p *DevTools) Execute(ctx context.Context, ec *engine.ExecContext) error {
	if len(p.Installer) == 0 {
		return fmt.Errorf("dev tool installer command is not configured")
	}
	set, err := loadPackageSet(ec.WorkDir)
	if err != nil {
		return err
	}
	if len(set.DevTools) == 0 {
		ec.Log.Info("No developer tools in the manifest")
		return nil
	}

	var failed []string
	for _, tool := range set.DevTools {
		if err := ctx.Err(); err != nil {
			return err
		}
		args := append(append([]string(nil), p.Installer[1:]...), tool)
		ec.Log.Infof("Installing dev tool %s", tool)
		result, err := ec.Host.Run(ctx, p.Installer[0], args...)
		if err != nil {
			return fmt.Errorf("failed to run installer for %s: %w", tool, err)
		}
		if result.ExitCode != 0 {
			ec.Log.WithField("stderr", strings.TrimSpace(result.Stderr)).
				Errorf("Install failed for %s", tool)
			failed = append(failed, tool)
		}
	}
	if len(failed) > 0 {
		return &engine.ExitError{
			Code:    12,
			Message: fmt.Sprintf("dev tool install failed for: %s", strings.Join(failed, ", ")),
		}
	}
	return nil
}
