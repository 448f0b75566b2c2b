package workspace

// Info holds the paths of one task's isolated working area.
type Info struct {
	Path     string // Absolute path to the workspace root
	Staging  string // Sibling directory where the build deposits artifacts
	TaskName string // Owning task
}

// Config configures the workspace manager.
type Config struct {
	Root string // Directory under which per-task workspaces are created
}
