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

// HardwareProfile is the hardware-scan artifact consumed by the
// package-manifest phase. Vendors are normalized to lowercase short
// names (amd, intel, nvidia) or "unknown".
type HardwareProfile struct {
	Architecture string    `yaml:"architecture"`
	CPUVendor    string    `yaml:"cpu_vendor"`
	GPUVendor    string    `yaml:"gpu_vendor"`
	DetectedAt   time.Time `yaml:"detected_at"`
}

func hardwareProfilePath(workDir string) string {
	return filepath.Join(workDir, artifactsDir, "hardware-profile.yaml")
}

// HardwareScan probes the host for CPU and GPU hardware and records the
// result as a workspace artifact.
type HardwareScan struct{}

// NewHardwareScan returns the hardware-scan phase.
func NewHardwareScan() *HardwareScan { return &HardwareScan{} }

// Execute implements engine.Implementation.
func (p *HardwareScan) Execute(ctx context.Context, ec *engine.ExecContext) error {
	profile := HardwareProfile{
		Architecture: "unknown",
		CPUVendor:    "unknown",
		GPUVendor:    "unknown",
		DetectedAt:   time.Now().UTC(),
	}

	uname, err := runHost(ctx, ec, "uname", "-m")
	if err != nil {
		return err
	}
	profile.Architecture = strings.TrimSpace(uname.Stdout)

	// lscpu and lspci are best-effort probes. Hosts without them still
	// deploy; the package manifest falls back to the base set.
	if result, err := ec.Host.Run(ctx, "lscpu"); err == nil && result.ExitCode == 0 {
		profile.CPUVendor = cpuVendor(result.Stdout)
	} else {
		ec.Log.Warn("lscpu unavailable, CPU vendor unknown")
	}
	if result, err := ec.Host.Run(ctx, "lspci"); err == nil && result.ExitCode == 0 {
		profile.GPUVendor = gpuVendor(result.Stdout)
	} else {
		ec.Log.Warn("lspci unavailable, GPU vendor unknown")
	}

	data, err := yaml.Marshal(&profile)
	if err != nil {
		return fmt.Errorf("failed to encode hardware profile: %w", err)
	}
	path := hardwareProfilePath(ec.WorkDir)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write hardware profile: %w", err)
	}
	ec.Log.Infof("Hardware profile written to %s (cpu=%s gpu=%s)",
		path, profile.CPUVendor, profile.GPUVendor)
	return nil
}

// cpuVendor extracts the normalized CPU vendor from lscpu output.
func cpuVendor(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "Vendor ID:") {
			continue
		}
		vendor := strings.TrimSpace(strings.TrimPrefix(line, "Vendor ID:"))
		switch {
		case strings.Contains(vendor, "AMD"):
			return "amd"
		case strings.Contains(vendor, "Intel"):
			return "intel"
		}
		return strings.ToLower(vendor)
	}
	return "unknown"
}

// gpuVendor extracts the normalized GPU vendor from lspci output.
func gpuVendor(out string) string {
	for _, line := range strings.Split(strings.ToLower(out), "\n") {
		if !strings.Contains(line, "vga") && !strings.Contains(line, "3d controller") {
			continue
		}
		switch {
		case strings.Contains(line, "nvidia"):
			return "nvidia"
		case strings.Contains(line, "amd"), strings.Contains(line, "ati"):
			return "amd"
		case strings.Contains(line, "intel"):
			return "intel"
		}
	}
	return "unknown"
}
