package phases

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

func renderedConfigPath(workDir string) string {
	return filepath.Join(workDir, renderedDir, "system.conf")
}

// systemConfigTemplate is the staged configuration handed to the system
// builder. The rendered header names the generator so nobody edits the
// file in place.
const systemConfigTemplate = `# Generated by stagecraft on {{ .RenderedAt }}. Do not edit.
[packages]
{{- range .Set.System }}
install = {{ . }}
{{- end }}

[services]
{{- range .Set.Services }}
enable = {{ . }}
{{- end }}
`

// SystemConfig renders the package manifest into the configuration file
// the external system builder consumes.
type SystemConfig struct{}

// NewSystemConfig returns the system-config phase.
func NewSystemConfig() *SystemConfig { return &SystemConfig{} }

// Execute implements engine.Implementation.
func (p *SystemConfig) Execute(ctx context.Context, ec *engine.ExecContext) error {
	set, err := loadPackageSet(ec.WorkDir)
	if err != nil {
		return err
	}

	tmpl, err := template.New("system.conf").Parse(systemConfigTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse system config template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		RenderedAt string
		Set        *PackageSet
	}{
		RenderedAt: time.Now().UTC().Format(time.RFC3339),
		Set:        set,
	})
	if err != nil {
		return fmt.Errorf("failed to render system config: %w", err)
	}

	path := renderedConfigPath(ec.WorkDir)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write rendered system config: %w", err)
	}
	ec.Log.Infof("System configuration rendered to %s", path)
	return nil
}
