package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// Services enables and starts the system services listed in the package
// manifest.
type Services struct{}

// NewServices returns the services phase.
func NewServices() *Services { return &Services{} }

// Execute implements engine.Implementation.
func (p *Services) Execute(ctx context.Context, ec *engine.ExecContext) error {
	set, err := loadPackageSet(ec.WorkDir)
	if err != nil {
		return err
	}
	if len(set.Services) == 0 {
		ec.Log.Info("No services in the manifest")
		return nil
	}

	var failed []string
	for _, svc := range set.Services {
		if err := ctx.Err(); err != nil {
			return err
		}
		ec.Log.Infof("Enabling service %s", svc)
		result, err := ec.Host.Run(ctx, "systemctl", "enable", "--now", svc)
		if err != nil {
			return fmt.Errorf("failed to run systemctl for %s: %w", svc, err)
		}
		if result.ExitCode != 0 {
			ec.Log.WithField("stderr", strings.TrimSpace(result.Stderr)).
				Errorf("Failed to enable %s", svc)
			failed = append(failed, svc)
		}
	}
	if len(failed) > 0 {
		return &engine.ExitError{
			Code:    12,
			Message: fmt.Sprintf("failed to enable services: %s", strings.Join(failed, ", ")),
		}
	}
	return nil
}
