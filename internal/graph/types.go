// Package graph converts an ordered technique workflow into an executable
// dependency graph with hard and soft edges, parallelizable groups, and a
// critical path over the hard-dependency subgraph.
package graph

// DependencyKind distinguishes blocking from advisory edges.
type DependencyKind string

const (
	// Hard dependencies must complete before the dependent node starts.
	Hard DependencyKind = "hard"
	// Soft dependencies are preferred-but-non-blocking ordering hints.
	Soft DependencyKind = "soft"
)

// Dependency is a single edge from a node to one of its prerequisites.
type Dependency struct {
	NodeID string         `json:"nodeId"`
	Kind   DependencyKind `json:"kind"`
}

// Node is one fully-specified step in the execution graph. Dependency
// node IDs always reference nodes declared earlier in the same graph.
type Node struct {
	ID              string       `json:"id"`
	Technique       string       `json:"technique"`
	Step            int          `json:"step"`
	TotalSteps      int          `json:"totalSteps"`
	Description     string       `json:"description"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
	CanSkipIfFailed bool         `json:"canSkipIfFailed"`
}

// StepSpec describes one step of a technique workflow before graph
// generation.
type StepSpec struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
}

// TechniqueWorkflow is the ordered step list for a single technique.
type TechniqueWorkflow struct {
	Technique string     `json:"technique"`
	Steps     []StepSpec `json:"steps"`
}

// Mode controls cross-technique ordering during graph generation.
type Mode string

const (
	// ModeParallel leaves techniques independent of each other.
	ModeParallel Mode = "parallel"
	// ModeSequential chains each technique after the previous one.
	ModeSequential Mode = "sequential"
)

// ExecutionGraph is the generated DAG plus derived scheduling metadata.
type ExecutionGraph struct {
	Nodes []Node `json:"nodes"`

	// ParallelGroups partitions node IDs by technique and hard-dependency
	// signature; nodes in one group can run concurrently.
	ParallelGroups [][]string `json:"parallelGroups"`

	// Levels is the Kahn wave view over hard edges: every node in wave N
	// has all hard dependencies satisfied by waves < N.
	Levels [][]string `json:"levels"`

	// CriticalPath is the longest hard-dependency chain, as node IDs in
	// execution order.
	CriticalPath []string `json:"criticalPath"`

	MaxParallelism           int    `json:"maxParallelism"`
	SequentialTimeMultiplier int    `json:"sequentialTimeMultiplier"`
	RecommendedStrategy      string `json:"recommendedStrategy"`

	// Instructions is human-readable scheduling advice for the caller.
	Instructions string `json:"instructions,omitempty"`
}

// NodeByID returns the node with the given ID, or nil.
func (g *ExecutionGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// FindNode returns the node for a technique step, or nil.
func (g *ExecutionGraph) FindNode(technique string, step int) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Technique == technique && g.Nodes[i].Step == step {
			return &g.Nodes[i]
		}
	}
	return nil
}

// HardDependencies returns only the hard edges of a node.
func (n *Node) HardDependencies() []string {
	var ids []string
	for _, d := range n.Dependencies {
		if d.Kind == Hard {
			ids = append(ids, d.NodeID)
		}
	}
	return ids
}
