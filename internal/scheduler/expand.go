package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buildmatrix/matrixci/internal/registry"
)

// ErrDuplicateTaskName is returned when the naming rule produces two
// identical task names, or two names that become identical once mapped
// to their on-disk directory form. Either way it is a configuration bug
// in the matrix, not a runtime fault, and it aborts the run before
// anything executes.
var ErrDuplicateTaskName = errors.New("duplicate task name")

// dirForm maps a task name to the directory name the workspace and
// artifact layers derive from it. Kept in sync with those layers so
// collisions are rejected here, before anything shares a directory.
var dirForm = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Expand synthesizes one BuildTask per (platform, version) pair,
// preserving matrix order. The task name is image-version for container
// platforms and label-version otherwise.
//
// Post-condition: len(result) equals the sum of all Versions lengths.
func Expand(specs []registry.PlatformSpec) ([]*BuildTask, error) {
	var tasks []*BuildTask
	seen := make(map[string]string)

	for _, spec := range specs {
		for _, version := range spec.Versions {
			name := spec.Label + "-" + version
			if spec.Container() {
				name = spec.Image + "-" + version
			}

			dir := dirForm.Replace(name)
			if prev, ok := seen[dir]; ok {
				if prev == name {
					return nil, fmt.Errorf("%w: %q", ErrDuplicateTaskName, name)
				}
				return nil, fmt.Errorf("%w: %q and %q share the directory name %q", ErrDuplicateTaskName, prev, name, dir)
			}
			seen[dir] = name

			tasks = append(tasks, &BuildTask{
				Name:          name,
				PlatformLabel: spec.Label,
				Image:         spec.Image,
				Version:       version,
				Build:         spec.Build,
				Smoke:         spec.Smoke,
			})
		}
	}

	return tasks, nil
}
