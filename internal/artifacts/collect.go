// Package artifacts collects the staged output of successful build tasks
// into one shared output directory, and optionally mirrors it to an
// S3-compatible artifact store.
package artifacts

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/buildmatrix/matrixci/internal/executor"
)

// Collect copies every artifact of every successful result into outDir,
// under a per-task subdirectory so concurrent runs and same-named files
// from different tasks never collide. Results with failure or timeout
// status are skipped; their staged files stay on disk for inspection.
//
// Collection is commutative over its inputs and never fails the run: an
// individual copy error is logged and the remaining artifacts are still
// collected. The returned paths are the files that landed in outDir.
func Collect(results []executor.BuildResult, outDir string) []string {
	var collected []string

	for _, result := range results {
		if !result.Succeeded() {
			continue
		}

		taskDir := filepath.Join(outDir, sanitize(result.TaskName))
		if err := os.MkdirAll(taskDir, 0755); err != nil {
			log.Printf("ERROR: creating output dir for %q: %v", result.TaskName, err)
			continue
		}

		for _, src := range result.ArtifactPaths {
			dst := filepath.Join(taskDir, filepath.Base(src))
			if err := copyFile(src, dst); err != nil {
				log.Printf("ERROR: collecting %s for %q: %v", filepath.Base(src), result.TaskName, err)
				continue
			}
			collected = append(collected, dst)
		}
	}

	return collected
}

// copyFile copies src to dst, replacing any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}

// sanitize maps a task name onto a single path element.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(name)
}
