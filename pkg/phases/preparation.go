package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// Workspace layout created by the preparation phase. Later phases read
// and write their artifacts relative to these directories.
const (
	artifactsDir = "artifacts"
	backupsDir   = "backups"
	renderedDir  = "rendered"
)

// Preparation creates the workspace directories and verifies that the
// tools the remaining phases shell out to are installed.
type Preparation struct {
	// RequiredTools must resolve on PATH before the deployment may
	// proceed.
	RequiredTools []string
}

// NewPreparation returns the preparation phase with the default tool
// preflight list.
func NewPreparation() *Preparation {
	return &Preparation{
		RequiredTools: []string{"tar", "flatpak", "systemctl"},
	}
}

// Execute implements engine.Implementation.
func (p *Preparation) Execute(ctx context.Context, ec *engine.ExecContext) error {
	for _, dir := range []string{artifactsDir, backupsDir, renderedDir} {
		path := filepath.Join(ec.WorkDir, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", path, err)
		}
	}
	ec.Log.Infof("Workspace prepared under %s", ec.WorkDir)

	var missing []string
	for _, tool := range p.RequiredTools {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := ec.Host.LookPath(tool)
		if err != nil {
			missing = append(missing, tool)
			continue
		}
		ec.Log.Debugf("Found %s at %s", tool, path)
	}
	if len(missing) > 0 {
		return &engine.ExitError{
			Code:    10,
			Message: fmt.Sprintf("required tools not installed: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
