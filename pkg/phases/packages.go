package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

// PackageSet is the package-manifest artifact that drives the
// installation phases.
type PackageSet struct {
	// System packages are handed to the system builder.
	System []string `yaml:"system"`

	// Flatpaks are application IDs installed from the flatpak remote.
	Flatpaks []string `yaml:"flatpaks"`

	// DevTools are installed through the repository's install script.
	DevTools []string `yaml:"dev_tools"`

	// Services are enabled and started once everything is installed.
	Services []string `yaml:"services"`
}

func packageSetPath(workDir string) string {
	return filepath.Join(workDir, artifactsDir, "packages.yaml")
}

// loadPackageSet reads the artifact written by the package-manifest
// phase. A missing artifact is a phase failure, not a fault: the fix is
// deterministic (re-run the producing phase).
func loadPackageSet(workDir string) (*PackageSet, error) {
	data, err := os.ReadFile(packageSetPath(workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &engine.ExitError{
				Code:    11,
				Message: "package manifest artifact is missing; re-run the package-manifest phase",
			}
		}
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}
	var set PackageSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}
	return &set, nil
}

// PackageManifest derives the concrete package set for this host from
// the hardware profile and writes it as a workspace artifact.
type PackageManifest struct {
	// Base is installed on every host regardless of hardware.
	Base PackageSet
}

// NewPackageManifest returns the package-manifest phase with the default
// base set.
func NewPackageManifest() *PackageManifest {
	return &PackageManifest{
		Base: PackageSet{
			System:   []string{"base-system", "linux-firmware", "networkmanager"},
			Flatpaks: []string{"org.mozilla.firefox"},
			DevTools: []string{"git", "gcc", "make"},
			Services: []string{"NetworkManager.service", "sshd.service"},
		},
	}
}

// Execute implements engine.Implementation.
func (p *PackageManifest) Execute(ctx context.Context, ec *engine.ExecContext) error {
	data, err := os.ReadFile(hardwareProfilePath(ec.WorkDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &engine.ExitError{
				Code:    11,
				Message: "hardware profile artifact is missing; re-run the hardware-scan phase",
			}
		}
		return fmt.Errorf("failed to read hardware profile: %w", err)
	}
	var profile HardwareProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("failed to parse hardware profile: %w", err)
	}

	set := PackageSet{
		System:   append([]string(nil), p.Base.System...),
		Flatpaks: append([]string(nil), p.Base.Flatpaks...),
		DevTools: append([]string(nil), p.Base.DevTools...),
		Services: append([]string(nil), p.Base.Services...),
	}

	switch profile.CPUVendor {
	case "amd":
		set.System = append(set.System, "amd-ucode")
	case "intel":
		set.System = append(set.System, "intel-ucode")
	}
	switch profile.GPUVendor {
	case "nvidia":
		set.System = append(set.System, "nvidia-driver", "nvidia-settings")
	case "amd":
		set.System = append(set.System, "mesa", "vulkan-radeon")
	case "intel":
		set.System = append(set.System, "mesa", "intel-media-driver")
	}

	out, err := yaml.Marshal(&set)
	if err != nil {
		return fmt.Errorf("failed to encode package manifest: %w", err)
	}
	path := packageSetPath(ec.WorkDir)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write package manifest: %w", err)
	}
	ec.Log.Infof("Package manifest written to %s (%d system packages)", path, len(set.System))
	return nil
}
