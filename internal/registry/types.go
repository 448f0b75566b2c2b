// Package registry holds the declarative build matrix: the ordered set of
// target platforms, the runtime versions to build for each, and the
// toolchain tables used to resolve native build environments.
package registry

import (
	"fmt"

	"github.com/buildmatrix/matrixci/internal/buildenv"
)

// LabelContainer marks a platform whose builds run inside a container
// image rather than directly on a native host.
const LabelContainer = "container"

// PlatformSpec identifies one build environment family.
// Image must be set if and only if Label is LabelContainer.
type PlatformSpec struct {
	Label    string   `yaml:"label"`           // Native host class ("windows", "windows64", "macos", ...) or "container"
	Image    string   `yaml:"image,omitempty"` // Container image, container platforms only
	Versions []string `yaml:"versions"`        // Ordered runtime versions to build

	// Build and Smoke override the default build/self-test commands for
	// this platform. Empty means use the runner-wide defaults.
	Build []string `yaml:"build,omitempty"`
	Smoke []string `yaml:"smoke,omitempty"`
}

// Container reports whether this spec executes inside a container image.
func (p PlatformSpec) Container() bool {
	return p.Label == LabelContainer
}

// Matrix is the full declarative input: platforms plus toolchain tables.
// Immutable after Load returns.
type Matrix struct {
	Platforms  []PlatformSpec `yaml:"platforms"`
	Toolchains buildenv.Table `yaml:"toolchains,omitempty"`
}

// Validate checks the matrix invariants and fails fast with a descriptive
// configuration error. Nothing is expanded or executed before this passes.
func (m *Matrix) Validate() error {
	if len(m.Platforms) == 0 {
		return fmt.Errorf("matrix defines no platforms")
	}

	for i, p := range m.Platforms {
		if p.Label == "" {
			return fmt.Errorf("platform %d: missing label", i)
		}
		if p.Container() && p.Image == "" {
			return fmt.Errorf("platform %d (%s): container platform requires an image", i, p.Label)
		}
		if !p.Container() && p.Image != "" {
			return fmt.Errorf("platform %d (%s): image is only valid for container platforms", i, p.Label)
		}
		if len(p.Versions) == 0 {
			return fmt.Errorf("platform %d (%s): no versions listed", i, p.Label)
		}

		seen := make(map[string]bool, len(p.Versions))
		for _, v := range p.Versions {
			if v == "" {
				return fmt.Errorf("platform %d (%s): empty version", i, p.Label)
			}
			if seen[v] {
				return fmt.Errorf("platform %d (%s): duplicate version %q", i, p.Label, v)
			}
			seen[v] = true
		}
	}

	for label, versions := range m.Toolchains {
		if label == LabelContainer {
			return fmt.Errorf("toolchains: %q entries are not allowed; container images carry their own toolchain", LabelContainer)
		}
		for version, tc := range versions {
			if tc.Interpreter == "" {
				return fmt.Errorf("toolchains: %s/%s: missing interpreter path", label, version)
			}
		}
	}

	return nil
}
