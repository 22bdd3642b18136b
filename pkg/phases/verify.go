package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// VerificationCheck is one health check outcome in the verification
// report.
type VerificationCheck struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
	Detail string `yaml:"detail,omitempty"`
}

// VerificationReport is the artifact summarizing the post-deployment
// health checks.
type VerificationReport struct {
	CheckedAt time.Time           `yaml:"checked_at"`
	Checks    []VerificationCheck `yaml:"checks"`
	Passed    bool                `yaml:"passed"`
}

// Verification runs post-deployment health checks and writes the
// verification report artifact. Any failed check fails the phase.
type Verification struct{}

// NewVerification returns the verification phase.
func NewVerification() *Verification { return &Verification{} }

// Execute implements engine.Implementation.
func (p *Verification) Execute(ctx context.Context, ec *engine.ExecContext) error {
	set, err := loadPackageSet(ec.WorkDir)
	if err != nil {
		return err
	}

	report := VerificationReport{CheckedAt: time.Now().UTC(), Passed: true}
	record := func(name, status, detail string) {
		if status != "ok" {
			report.Passed = false
		}
		report.Checks = append(report.Checks, VerificationCheck{
			Name:   name,
			Status: status,
			Detail: detail,
		})
	}

	// Overall state first: a degraded host can still report every
	// manifest service as active, so this catches unit failures outside
	// the manifest.
	result, err := ec.Host.Run(ctx, "systemctl", "is-system-running")
	switch {
	case err != nil:
		record("system-running", "error", err.Error())
	case result.ExitCode != 0:
		record("system-running", "failed", strings.TrimSpace(result.Stdout))
	default:
		record("system-running", "ok", "")
	}

	for _, svc := range set.Services {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := "service " + svc
		result, err := ec.Host.Run(ctx, "systemctl", "is-active", svc)
		switch {
		case err != nil:
			record(name, "error", err.Error())
		case result.ExitCode != 0:
			record(name, "failed", strings.TrimSpace(result.Stdout))
		default:
			record(name, "ok", "")
		}
	}

	data, err := yaml.Marshal(&report)
	if err != nil {
		return fmt.Errorf("failed to encode verification report: %w", err)
	}
	path := filepath.Join(ec.WorkDir, artifactsDir, "verification-report.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write verification report: %w", err)
	}
	ec.Log.Infof("Verification report written to %s", path)

	if !report.Passed {
		var names []string
		for _, c := range report.Checks {
			if c.Status != "ok" {
				names = append(names, c.Name)
			}
		}
		return &engine.ExitError{
			Code:    13,
			Message: fmt.Sprintf("health checks failed: %s", strings.Join(names, ", ")),
		}
	}
	ec.Log.Infof("All %d health checks passed", len(report.Checks))
	return nil
}
