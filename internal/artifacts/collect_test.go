package artifacts

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/buildmatrix/matrixci/internal/executor"
)

func stageFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("staging %s: %v", name, err)
	}
	return path
}

// TestCollect verifies successful artifacts land under per-task
// subdirectories and non-success results are skipped.
func TestCollect(t *testing.T) {
	staging := t.TempDir()
	outDir := t.TempDir()

	results := []executor.BuildResult{
		{
			TaskName: "linux-3.1",
			Status:   executor.StatusSuccess,
			ArtifactPaths: []string{
				stageFile(t, staging, "a.tar.gz", "aaa"),
				stageFile(t, staging, "b.tar.gz", "bbb"),
			},
		},
		{
			TaskName:      "macos-3.1",
			Status:        executor.StatusFailure,
			ArtifactPaths: nil,
		},
		{
			TaskName: "img:x86_64-3.1",
			Status:   executor.StatusSuccess,
			ArtifactPaths: []string{
				stageFile(t, staging, "c.tar.gz", "ccc"),
			},
		},
	}

	collected := Collect(results, outDir)
	if len(collected) != 3 {
		t.Fatalf("Collected %d artifacts, want 3", len(collected))
	}

	for _, want := range []string{
		filepath.Join(outDir, "linux-3.1", "a.tar.gz"),
		filepath.Join(outDir, "linux-3.1", "b.tar.gz"),
		filepath.Join(outDir, "img_x86_64-3.1", "c.tar.gz"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("Missing collected artifact %s: %v", want, err)
		}
	}

	// The failed task must leave nothing behind.
	if _, err := os.Stat(filepath.Join(outDir, "macos-3.1")); !os.IsNotExist(err) {
		t.Error("Failed task produced an output directory")
	}
}

// TestCollectOrderIndependent verifies that result order does not change
// the collected set.
func TestCollectOrderIndependent(t *testing.T) {
	staging := t.TempDir()

	results := []executor.BuildResult{
		{TaskName: "a", Status: executor.StatusSuccess,
			ArtifactPaths: []string{stageFile(t, staging, "a.out", "a")}},
		{TaskName: "b", Status: executor.StatusSuccess,
			ArtifactPaths: []string{stageFile(t, staging, "b.out", "b")}},
		{TaskName: "c", Status: executor.StatusSuccess,
			ArtifactPaths: []string{stageFile(t, staging, "c.out", "c")}},
	}
	reversed := []executor.BuildResult{results[2], results[1], results[0]}

	forward := Collect(results, t.TempDir())
	backward := Collect(reversed, t.TempDir())

	names := func(paths []string) []string {
		var out []string
		for _, p := range paths {
			out = append(out, filepath.Base(p))
		}
		sort.Strings(out)
		return out
	}

	f, b := names(forward), names(backward)
	if len(f) != len(b) {
		t.Fatalf("Collected sets differ: %v vs %v", f, b)
	}
	for i := range f {
		if f[i] != b[i] {
			t.Errorf("Collected sets differ at %d: %v vs %v", i, f, b)
		}
	}
}

// TestCollectPartialFailure verifies a missing source file skips that
// artifact but collects the rest.
func TestCollectPartialFailure(t *testing.T) {
	staging := t.TempDir()
	outDir := t.TempDir()

	results := []executor.BuildResult{
		{
			TaskName: "linux-3.1",
			Status:   executor.StatusSuccess,
			ArtifactPaths: []string{
				filepath.Join(staging, "vanished.tar.gz"),
				stageFile(t, staging, "kept.tar.gz", "data"),
			},
		},
	}

	collected := Collect(results, outDir)
	if len(collected) != 1 {
		t.Fatalf("Collected %d artifacts, want 1", len(collected))
	}
	if filepath.Base(collected[0]) != "kept.tar.gz" {
		t.Errorf("Unexpected collected artifact %s", collected[0])
	}
}

// TestCollectEmpty verifies the no-op cases.
func TestCollectEmpty(t *testing.T) {
	if got := Collect(nil, t.TempDir()); len(got) != 0 {
		t.Errorf("Collect(nil) = %v, want empty", got)
	}

	results := []executor.BuildResult{
		{TaskName: "linux-3.1", Status: executor.StatusTimedOut},
	}
	if got := Collect(results, t.TempDir()); len(got) != 0 {
		t.Errorf("Collect(timed out only) = %v, want empty", got)
	}
}

// TestStoreConfigValidate checks the object store configuration rules.
func TestStoreConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{
			name: "complete",
			cfg: StoreConfig{
				Enabled:   true,
				Endpoint:  "minio.internal:9000",
				Bucket:    "artifacts",
				AccessKey: "key",
				SecretKey: "secret",
			},
			wantErr: false,
		},
		{
			name:    "missing endpoint",
			cfg:     StoreConfig{Enabled: true, Bucket: "artifacts", AccessKey: "k", SecretKey: "s"},
			wantErr: true,
		},
		{
			name:    "missing bucket",
			cfg:     StoreConfig{Enabled: true, Endpoint: "minio.internal:9000", AccessKey: "k", SecretKey: "s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
