package scheduler

import (
	"errors"
	"strings"
	"testing"
)

func planTasks() []*BuildTask {
	return []*BuildTask{
		{Name: "linux-v1", PlatformLabel: "linux", Version: "v1"},
		{Name: "linux-v2", PlatformLabel: "linux", Version: "v2"},
		{Name: "img:x86_64-v1", PlatformLabel: "container", Image: "img:x86_64", Version: "v1"},
		{Name: "img:x86_64-v2", PlatformLabel: "container", Image: "img:x86_64", Version: "v2"},
	}
}

// TestNewPlanPullNodes verifies that one pull node is created per unique
// container image and that builds depend on it.
func TestNewPlanPullNodes(t *testing.T) {
	plan, err := NewPlan(planTasks())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	nodes := plan.Nodes()
	if len(nodes) != 5 {
		t.Fatalf("Expected 5 nodes (4 builds + 1 pull), got %d", len(nodes))
	}

	pull, ok := plan.Get("pull:img:x86_64")
	if !ok {
		t.Fatal("Expected pull node for img:x86_64")
	}
	if pull.Kind != NodePull {
		t.Errorf("Expected NodePull, got %v", pull.Kind)
	}

	build, ok := plan.Get("img:x86_64-v1")
	if !ok {
		t.Fatal("Expected build node img:x86_64-v1")
	}
	if len(build.DependsOn) != 1 || build.DependsOn[0] != "pull:img:x86_64" {
		t.Errorf("Expected build to depend on the pull node, got %v", build.DependsOn)
	}

	native, ok := plan.Get("linux-v1")
	if !ok {
		t.Fatal("Expected build node linux-v1")
	}
	if len(native.DependsOn) != 0 {
		t.Errorf("Native build should have no dependencies, got %v", native.DependsOn)
	}
}

// TestPlanValidate checks the topological sort over plan structures.
func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *Plan
		wantErr     bool
		errContains string
	}{
		{
			name: "pull before builds",
			setup: func() *Plan {
				plan, err := NewPlan(planTasks())
				if err != nil {
					t.Fatalf("NewPlan() error = %v", err)
				}
				return plan
			},
			wantErr: false,
		},
		{
			name: "missing dependency",
			setup: func() *Plan {
				p := &Plan{nodes: make(map[string]*Node), dependents: make(map[string][]string)}
				p.add(&Node{ID: "a", Kind: NodeBuild, DependsOn: []string{"nonexistent"}})
				return p
			},
			wantErr:     true,
			errContains: "nonexistent",
		},
		{
			name: "cycle",
			setup: func() *Plan {
				p := &Plan{nodes: make(map[string]*Node), dependents: make(map[string][]string)}
				p.add(&Node{ID: "a", Kind: NodeBuild, DependsOn: []string{"b"}})
				p.add(&Node{ID: "b", Kind: NodeBuild, DependsOn: []string{"a"}})
				return p
			},
			wantErr:     true,
			errContains: "not a DAG",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := tt.setup()
			order, err := plan.Validate()

			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errContains != "" {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error message %q doesn't contain %q", err.Error(), tt.errContains)
				}
			}
			if err == nil && len(order) != len(plan.Nodes()) {
				t.Errorf("Order has %d entries, expected %d", len(order), len(plan.Nodes()))
			}
		})
	}
}

// TestPlanEligible verifies dependency gating: container builds become
// eligible only after their image pull succeeds.
func TestPlanEligible(t *testing.T) {
	plan, err := NewPlan(planTasks())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	// Initially: both native builds and the pull node.
	eligible := plan.Eligible()
	if len(eligible) != 3 {
		t.Fatalf("Expected 3 initially eligible nodes, got %d", len(eligible))
	}
	ids := make(map[string]bool)
	for _, n := range eligible {
		ids[n.ID] = true
	}
	for _, want := range []string{"linux-v1", "linux-v2", "pull:img:x86_64"} {
		if !ids[want] {
			t.Errorf("Expected %q to be eligible", want)
		}
	}
	if ids["img:x86_64-v1"] {
		t.Error("Container build must not be eligible before its pull")
	}

	// Pull succeeds, native builds finish: container builds unlock.
	plan.MarkSucceeded("pull:img:x86_64")
	plan.MarkSucceeded("linux-v1")
	plan.MarkFailed("linux-v2", errors.New("build failed"))

	eligible = plan.Eligible()
	if len(eligible) != 2 {
		t.Fatalf("Expected 2 eligible container builds, got %d", len(eligible))
	}
	for _, n := range eligible {
		if n.Kind != NodeBuild || n.Image == "" {
			t.Errorf("Expected container build nodes, got %+v", n)
		}
	}
}

// TestPlanFailDependents verifies that a failed pull fails exactly the
// builds waiting on that image.
func TestPlanFailDependents(t *testing.T) {
	plan, err := NewPlan(planTasks())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	cause := errors.New("registry unreachable")
	plan.MarkFailed("pull:img:x86_64", cause)
	failed := plan.FailDependents("pull:img:x86_64", cause)

	if len(failed) != 2 {
		t.Fatalf("Expected 2 failed dependents, got %d", len(failed))
	}
	for _, n := range failed {
		if n.Status != NodeFailed {
			t.Errorf("Dependent %s status = %v, want NodeFailed", n.ID, n.Status)
		}
		if n.Err != cause {
			t.Errorf("Dependent %s error = %v, want %v", n.ID, n.Err, cause)
		}
	}

	// Native builds are untouched and still eligible.
	eligible := plan.Eligible()
	if len(eligible) != 2 {
		t.Fatalf("Expected 2 native builds still eligible, got %d", len(eligible))
	}
	for _, n := range eligible {
		if n.Task == nil || n.Task.ContainerTask() {
			t.Errorf("Expected native build, got %s", n.ID)
		}
	}
}

// TestPlanCounts verifies that progress counting covers build nodes only.
func TestPlanCounts(t *testing.T) {
	plan, err := NewPlan(planTasks())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	plan.MarkRunning("pull:img:x86_64")
	plan.MarkSucceeded("linux-v1")
	plan.MarkRunning("linux-v2")

	pending, running, succeeded, failed := plan.Counts()
	if pending != 2 || running != 1 || succeeded != 1 || failed != 0 {
		t.Errorf("Counts() = (%d, %d, %d, %d), want (2, 1, 1, 0)", pending, running, succeeded, failed)
	}

	if plan.Done() {
		t.Error("Done() = true with pending nodes")
	}
}

// TestPlanMarkTransitions tests the state transition methods.
func TestPlanMarkTransitions(t *testing.T) {
	t.Run("MarkFailed stores error", func(t *testing.T) {
		plan, err := NewPlan(planTasks())
		if err != nil {
			t.Fatalf("NewPlan() error = %v", err)
		}

		testErr := errors.New("build failed")
		if err := plan.MarkFailed("linux-v1", testErr); err != nil {
			t.Errorf("MarkFailed() error = %v, want nil", err)
		}

		node, _ := plan.Get("linux-v1")
		if node.Status != NodeFailed {
			t.Errorf("Node status = %v, want NodeFailed", node.Status)
		}
		if node.Err != testErr {
			t.Errorf("Node error = %v, want %v", node.Err, testErr)
		}
	})

	t.Run("MarkRunning on non-existent node returns error", func(t *testing.T) {
		plan, err := NewPlan(nil)
		if err != nil {
			t.Fatalf("NewPlan() error = %v", err)
		}

		err = plan.MarkRunning("nonexistent")
		if err == nil {
			t.Error("MarkRunning() error = nil, want error")
		}
		if !strings.Contains(err.Error(), "not found") {
			t.Errorf("Error message %q doesn't contain 'not found'", err.Error())
		}
	})

	t.Run("Get returns copies", func(t *testing.T) {
		plan, err := NewPlan(planTasks())
		if err != nil {
			t.Fatalf("NewPlan() error = %v", err)
		}

		node, ok := plan.Get("linux-v1")
		if !ok {
			t.Fatal("Get() ok = false, want true")
		}
		node.Status = NodeFailed

		fresh, _ := plan.Get("linux-v1")
		if fresh.Status != NodePending {
			t.Error("Mutating a returned node must not affect the plan")
		}
	})
}
