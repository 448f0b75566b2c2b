// Package scheduler expands the platform matrix into build tasks and owns
// the launch plan that orders image pulls before the builds that need them.
package scheduler

// BuildTask is one independently schedulable unit of work: build and
// smoke-test one runtime version on one platform. Tasks are created once
// by Expand, consumed once by the dispatcher, and never mutated.
type BuildTask struct {
	Name          string   // Unique across the run: image-version or label-version
	PlatformLabel string   // Platform family ("windows64", "macos", "container", ...)
	Image         string   // Container image; empty for native platforms
	Version       string   // Runtime version identifier
	Build         []string // Platform build command override (empty = runner default)
	Smoke         []string // Platform smoke-test command override (empty = runner default)
}

// ContainerTask reports whether this task executes inside a container.
func (t *BuildTask) ContainerTask() bool {
	return t.Image != ""
}
