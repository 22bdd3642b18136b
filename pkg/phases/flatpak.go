package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// FlatpakApps installs the sandboxed desktop applications from the
// package manifest. Installs are idempotent on the flatpak side, so
// re-running the phase after a resume is harmless.
type FlatpakApps struct {
	// Remote is the flatpak remote applications are installed from.
	Remote string
}

// NewFlatpakApps returns the flatpak-apps phase targeting flathub.
func NewFlatpakApps() *FlatpakApps {
	return &FlatpakApps{Remote: "flathub"}
}

// Execute implements engine.Implementation.
func (p *FlatpakApps) Execute(ctx context.Context, ec *engine.ExecContext) error {
	set, err := loadPackageSet(ec.WorkDir)
	if err != nil {
		return err
	}
	if len(set.Flatpaks) == 0 {
		ec.Log.Info("No flatpak applications in the manifest")
		return nil
	}

	var failed []string
	for _, app := range set.Flatpaks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ec.Log.Infof("Installing flatpak %s", app)
		result, err := ec.Host.Run(ctx, "flatpak", "install", "--assumeyes", "--noninteractive", p.Remote, app)
		if err != nil {
			return fmt.Errorf("failed to run flatpak for %s: %w", app, err)
		}
		if result.ExitCode != 0 {
			ec.Log.WithField("stderr", strings.TrimSpace(result.Stderr)).
				Errorf("Flatpak install failed for %s", app)
			failed = append(failed, app)
		}
	}
	if len(failed) > 0 {
		return &engine.ExitError{
			Code:    12,
			Message: fmt.Sprintf("flatpak install failed for: %s", strings.Join(failed, ", ")),
		}
	}
	return nil
}
