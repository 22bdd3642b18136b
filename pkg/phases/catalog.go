package phases

import (
	"fmt"
	"sort"

	_ "embed"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

//go:embed manifest.yaml
var manifestYAML []byte

var validate = validator.New()

// descriptor is one phase entry in the embedded manifest.
type descriptor struct {
	// Ordinal is the 1-based position of the phase in the deployment order.
	Ordinal int `yaml:"ordinal" validate:"required,gte=1"`

	// Name is the stable identifier used to bind the descriptor to its
	// implementation.
	Name string `yaml:"name" validate:"required"`

	// Description is the operator-facing summary shown by list and
	// show-phase-info.
	Description string `yaml:"description" validate:"required"`

	// Dependencies lists the ordinals that must be complete before this
	// phase may run.
	Dependencies []int `yaml:"dependencies" validate:"omitempty,dive,gte=1"`

	// SafeRestartPoint marks phases after which a resume is known safe.
	SafeRestartPoint bool `yaml:"safe_restart_point"`
}

// manifest is the root document of manifest.yaml.
type manifest struct {
	Phases []descriptor `yaml:"phases" validate:"required,min=1,dive"`
}

// implementations binds manifest names to phase bodies. Every name in the
// manifest must appear here and vice versa; Catalog fails fast on any
// disagreement so a drifting manifest cannot ship.
func implementations() map[string]engine.Implementation {
	return map[string]engine.Implementation{
		"preparation":      NewPreparation(),
		"backup":           NewBackup(),
		"hardware-scan":    NewHardwareScan(),
		"package-manifest": NewPackageManifest(),
		"system-config":    NewSystemConfig(),
		"system-apply":     NewSystemApply(),
		"flatpak-apps":     NewFlatpakApps(),
		"dev-tools":        NewDevTools(),
		"services":         NewServices(),
		"verification":     NewVerification(),
	}
}

// Catalog loads the embedded phase manifest and returns the registry along
// with the implementation table keyed by ordinal.
func Catalog() (*engine.Registry, map[int]engine.Implementation, error) {
	var m manifest
	if err := yaml.Unmarshal(manifestYAML, &m); err != nil {
		return nil, nil, fmt.Errorf("failed to parse embedded phase manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, nil, fmt.Errorf("embedded phase manifest is invalid: %w", err)
	}

	impls := implementations()
	bound := make(map[string]bool, len(impls))

	specs := make([]engine.Phase, 0, len(m.Phases))
	table := make(map[int]engine.Implementation, len(m.Phases))
	for _, d := range m.Phases {
		impl, ok := impls[d.Name]
		if !ok {
			return nil, nil, fmt.Errorf("phase %q (ordinal %d) has no implementation", d.Name, d.Ordinal)
		}
		if bound[d.Name] {
			return nil, nil, fmt.Errorf("phase %q appears more than once in the manifest", d.Name)
		}
		bound[d.Name] = true

		specs = append(specs, engine.Phase{
			Ordinal:          d.Ordinal,
			Name:             d.Name,
			Description:      d.Description,
			Dependencies:     d.Dependencies,
			SafeRestartPoint: d.SafeRestartPoint,
		})
		table[d.Ordinal] = impl
	}

	if len(bound) != len(impls) {
		orphans := make([]string, 0, len(impls))
		for name := range impls {
			if !bound[name] {
				orphans = append(orphans, name)
			}
		}
		sort.Strings(orphans)
		return nil, nil, fmt.Errorf("implementations %v are not listed in the manifest", orphans)
	}

	registry, err := engine.NewRegistry(specs)
	if err != nil {
		return nil, nil, err
	}
	return registry, table, nil
}
