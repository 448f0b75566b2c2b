package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// NodeKind distinguishes build tasks from their infrastructure prerequisites.
type NodeKind int

const (
	NodeBuild NodeKind = iota // Runs one BuildTask
	NodePull                  // Pulls one container image, shared by its builds
)

// NodeStatus is the minimal per-node state machine: pending, running, terminal.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeRunning
	NodeSucceeded
	NodeFailed
)

// Node is one schedulable entry in the launch plan.
type Node struct {
	ID        string
	Kind      NodeKind
	Image     string     // Pull nodes: the image to pull
	Task      *BuildTask // Build nodes: the task to run
	DependsOn []string   // Node IDs that must succeed first
	Status    NodeStatus
	Err       error
}

// Plan is the launch plan for one run: every build task, plus one pull
// node per unique container image so concurrent builds never race on the
// first pull. Build tasks remain mutually independent; pull nodes are the
// only edges in the graph.
type Plan struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	order      []string            // Insertion order, for deterministic iteration
	dependents map[string][]string // node ID -> IDs of nodes that depend on it
}

// NewPlan builds the plan for the given expanded task set.
func NewPlan(tasks []*BuildTask) (*Plan, error) {
	p := &Plan{
		nodes:      make(map[string]*Node),
		dependents: make(map[string][]string),
	}

	for _, task := range tasks {
		var deps []string
		if task.ContainerTask() {
			pullID := "pull:" + task.Image
			if _, exists := p.nodes[pullID]; !exists {
				if err := p.add(&Node{ID: pullID, Kind: NodePull, Image: task.Image}); err != nil {
					return nil, err
				}
			}
			deps = []string{pullID}
		}

		if err := p.add(&Node{ID: task.Name, Kind: NodeBuild, Task: task, DependsOn: deps}); err != nil {
			return nil, err
		}
	}

	if _, err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// add inserts a node. Caller holds no lock during construction; Plan is
// not shared until NewPlan returns.
func (p *Plan) add(node *Node) error {
	if _, exists := p.nodes[node.ID]; exists {
		return fmt.Errorf("plan node %q already exists", node.ID)
	}

	p.nodes[node.ID] = node
	p.order = append(p.order, node.ID)
	for _, depID := range node.DependsOn {
		p.dependents[depID] = append(p.dependents[depID], node.ID)
	}
	return nil
}

// Validate runs a topological sort over the plan. It catches references
// to missing nodes and any node lost from the ordering, and returns the
// sorted node IDs.
func (p *Plan) Validate() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, node := range p.nodes {
		for _, depID := range node.DependsOn {
			if _, exists := p.nodes[depID]; !exists {
				return nil, fmt.Errorf("node %q depends on non-existent node %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range p.order {
		node := p.nodes[id]
		if len(node.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
		} else {
			for _, depID := range node.DependsOn {
				edges = append(edges, toposort.Edge{depID, id})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan is not a DAG: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(p.nodes) {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range p.nodes {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d nodes: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Eligible returns pending nodes whose dependencies have all succeeded,
// in insertion order.
func (p *Plan) Eligible() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var eligible []*Node
	for _, id := range p.order {
		node := p.nodes[id]
		if node.Status != NodePending {
			continue
		}

		ready := true
		for _, depID := range node.DependsOn {
			if p.nodes[depID].Status != NodeSucceeded {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, cloneNode(node))
		}
	}

	return eligible
}

// MarkRunning transitions a node to NodeRunning.
func (p *Plan) MarkRunning(id string) error {
	return p.setStatus(id, NodeRunning, nil)
}

// MarkSucceeded transitions a node to NodeSucceeded.
func (p *Plan) MarkSucceeded(id string) error {
	return p.setStatus(id, NodeSucceeded, nil)
}

// MarkFailed transitions a node to NodeFailed and records the cause.
func (p *Plan) MarkFailed(id string, err error) error {
	return p.setStatus(id, NodeFailed, err)
}

func (p *Plan) setStatus(id string, status NodeStatus, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, exists := p.nodes[id]
	if !exists {
		return fmt.Errorf("plan node %q not found", id)
	}
	node.Status = status
	node.Err = err
	return nil
}

// FailDependents marks every still-pending node downstream of id as
// failed with the given cause and returns them. Used when an image pull
// fails: the builds that needed the image never start, but sibling tasks
// on other images and native hosts are unaffected.
func (p *Plan) FailDependents(id string, err error) []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	var failed []*Node
	for _, depID := range p.dependents[id] {
		node := p.nodes[depID]
		if node.Status != NodePending {
			continue
		}
		node.Status = NodeFailed
		node.Err = err
		failed = append(failed, cloneNode(node))
	}

	return failed
}

// Get returns a copy of the node with the given ID.
func (p *Plan) Get(id string) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, exists := p.nodes[id]
	if !exists {
		return nil, false
	}
	return cloneNode(node), true
}

// Nodes returns copies of all nodes in insertion order.
func (p *Plan) Nodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodes := make([]*Node, 0, len(p.order))
	for _, id := range p.order {
		nodes = append(nodes, cloneNode(p.nodes[id]))
	}
	return nodes
}

// Counts reports how many build nodes are in each coarse state. Pull
// nodes are infrastructure and excluded from progress accounting.
func (p *Plan) Counts() (pending, running, succeeded, failed int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, node := range p.nodes {
		if node.Kind != NodeBuild {
			continue
		}
		switch node.Status {
		case NodePending:
			pending++
		case NodeRunning:
			running++
		case NodeSucceeded:
			succeeded++
		case NodeFailed:
			failed++
		}
	}
	return
}

// Done reports whether every node has reached a terminal state.
func (p *Plan) Done() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, node := range p.nodes {
		if node.Status == NodePending || node.Status == NodeRunning {
			return false
		}
	}
	return true
}

func cloneNode(n *Node) *Node {
	c := *n
	c.DependsOn = append([]string(nil), n.DependsOn...)
	return &c
}
