// Package workspace manages isolated, per-task working areas. Each task
// owns its workspace exclusively; the directory is created before the
// build starts and removed on every exit path. Leaked workspaces would
// corrupt later runs on the same host, so cleanup is the one invariant
// this package cannot compromise on.
//
// Artifacts are staged outside the working area, under a sibling staging
// tree, so they survive workspace cleanup until the aggregator has copied
// them (and remain inspectable for failed tasks).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	workDir    = "work"
	stagingDir = "staging"
)

// Manager creates and removes per-task workspaces under a shared root.
type Manager struct {
	config Config
}

// NewManager creates a workspace manager. An empty root defaults to
// ".matrixci" relative to the current directory.
func NewManager(cfg Config) *Manager {
	if cfg.Root == "" {
		cfg.Root = ".matrixci"
	}
	return &Manager{config: cfg}
}

// Root returns the configured workspace root.
func (m *Manager) Root() string {
	return m.config.Root
}

// Create makes a fresh working area and staging directory for the given
// task. Leftovers for the same task from a crashed run are removed first
// so every build starts clean.
func (m *Manager) Create(taskName string) (*Info, error) {
	if taskName == "" {
		return nil, fmt.Errorf("workspace: task name is required")
	}

	name := sanitize(taskName)
	work := filepath.Join(m.config.Root, workDir, name)
	staging := filepath.Join(m.config.Root, stagingDir, name)

	for _, dir := range []string{work, staging} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("workspace: removing stale dir for %q: %w", taskName, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("workspace: creating dir for %q: %w", taskName, err)
		}
	}

	workAbs, err := filepath.Abs(work)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving path for %q: %w", taskName, err)
	}
	stagingAbs, err := filepath.Abs(staging)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving staging path for %q: %w", taskName, err)
	}

	return &Info{
		Path:     workAbs,
		Staging:  stagingAbs,
		TaskName: taskName,
	}, nil
}

// Cleanup removes the working area. The staging directory is left in
// place: successful artifacts still need collecting, and failed tasks'
// partial output stays available for operator inspection.
func (m *Manager) Cleanup(info *Info) error {
	if info == nil || info.Path == "" {
		return nil
	}
	if err := os.RemoveAll(info.Path); err != nil {
		return fmt.Errorf("workspace: cleanup of %q: %w", info.TaskName, err)
	}
	return nil
}

// List returns the task working areas currently present under the root.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(filepath.Join(m.config.Root, workDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: listing %s: %w", m.config.Root, err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(m.config.Root, workDir, e.Name()))
		if err != nil {
			return nil, err
		}
		stagingAbs, err := filepath.Abs(filepath.Join(m.config.Root, stagingDir, e.Name()))
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Path: abs, Staging: stagingAbs, TaskName: e.Name()})
	}
	return infos, nil
}

// Prune removes all working areas and staged output under the root.
// Called at run start to clear debris left by crashed prior runs.
func (m *Manager) Prune() error {
	var failed []string
	for _, sub := range []string{workDir, stagingDir} {
		if err := os.RemoveAll(filepath.Join(m.config.Root, sub)); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", sub, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("workspace: prune errors: %s", strings.Join(failed, "; "))
	}
	return nil
}

// sanitize maps a task name to a directory name. Image-derived names can
// contain path separators and registry ports ("img:x86_64"), which must
// not escape the workspace root.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(name)
}
