// Package buildenv resolves the concrete execution environment for one
// platform+version combination: interpreter path, compiler search paths,
// and the environment variables handed to the build procedure.
package buildenv

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrUnresolved is returned when no toolchain entry exists for a requested
// (platform label, version) pair. Callers check it with errors.Is.
var ErrUnresolved = errors.New("unresolved build environment")

// Toolchain describes where a single runtime version lives on a native host.
type Toolchain struct {
	Interpreter string            `yaml:"interpreter"`            // Absolute path to the runtime binary
	IncludeDirs []string          `yaml:"include_dirs,omitempty"` // Compiler header search paths
	LibDirs     []string          `yaml:"lib_dirs,omitempty"`     // Linker library search paths
	Extra       map[string]string `yaml:"env,omitempty"`          // Additional KEY=VALUE pairs
}

// Table maps platform label -> version -> toolchain location.
// It is static configuration: populated at load time, read-only afterwards.
type Table map[string]map[string]Toolchain

// Environment is the fully resolved, per-task execution context.
// It is computed on demand and owned by the executor invocation that
// requested it; nothing here is persisted.
type Environment struct {
	PlatformLabel string
	Version       string
	Interpreter   string
	IncludeDirs   []string
	LibDirs       []string
	Vars          []string // Rendered KEY=VALUE pairs, sorted for determinism
}

// Resolver resolves environments from a fixed toolchain table.
type Resolver struct {
	table Table
}

// NewResolver creates a Resolver over the given table.
func NewResolver(table Table) *Resolver {
	if table == nil {
		table = Table{}
	}
	return &Resolver{table: table}
}

// Resolve returns the execution environment for (label, version).
// It is a pure function of the table: the same inputs always produce the
// same Environment. Unknown pairs return an error wrapping ErrUnresolved,
// which the dispatcher surfaces before any build starts.
func (r *Resolver) Resolve(label, version string) (Environment, error) {
	// Container builds carry their toolchain inside the image; the host
	// only needs to tell the image which version to build.
	if label == "container" {
		return Environment{
			PlatformLabel: label,
			Version:       version,
			Vars:          renderVars(label, version, Toolchain{}),
		}, nil
	}

	versions, ok := r.table[label]
	if !ok {
		return Environment{}, fmt.Errorf("%w: no toolchain table for platform %q", ErrUnresolved, label)
	}

	tc, ok := versions[version]
	if !ok {
		return Environment{}, fmt.Errorf("%w: platform %q has no entry for version %q", ErrUnresolved, label, version)
	}

	return Environment{
		PlatformLabel: label,
		Version:       version,
		Interpreter:   tc.Interpreter,
		IncludeDirs:   append([]string(nil), tc.IncludeDirs...),
		LibDirs:       append([]string(nil), tc.LibDirs...),
		Vars:          renderVars(label, version, tc),
	}, nil
}

// renderVars builds the sorted KEY=VALUE slice passed to the build process.
func renderVars(label, version string, tc Toolchain) []string {
	kv := map[string]string{
		"MATRIXCI_PLATFORM": label,
		"MATRIXCI_VERSION":  version,
	}
	if tc.Interpreter != "" {
		kv["MATRIXCI_INTERPRETER"] = tc.Interpreter
	}
	if len(tc.IncludeDirs) > 0 {
		kv["MATRIXCI_INCLUDE"] = strings.Join(tc.IncludeDirs, string(os.PathListSeparator))
	}
	if len(tc.LibDirs) > 0 {
		kv["MATRIXCI_LIB"] = strings.Join(tc.LibDirs, string(os.PathListSeparator))
	}
	for k, v := range tc.Extra {
		kv[k] = v
	}

	vars := make([]string, 0, len(kv))
	for k, v := range kv {
		vars = append(vars, k+"="+v)
	}
	sort.Strings(vars)
	return vars
}
