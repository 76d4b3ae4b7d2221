package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trellis-dev/trellis/internal/technique"
)

// Build generates an ExecutionGraph from an ordered list of technique
// workflows. Node IDs are assigned in declaration order, so the same input
// always yields the same graph.
func Build(workflows []TechniqueWorkflow, mode Mode) (*ExecutionGraph, error) {
	g := &ExecutionGraph{}
	if len(workflows) == 0 {
		g.SequentialTimeMultiplier = 1
		g.RecommendedStrategy = "sequential"
		return g, nil
	}
	if mode == "" {
		mode = ModeParallel
	}

	var prevLast string // last node of the previous technique, sequential mode
	for _, wf := range workflows {
		info, ok := technique.Lookup(wf.Technique)
		if !ok {
			return nil, fmt.Errorf("unknown technique %q", wf.Technique)
		}
		steps := wf.Steps
		if len(steps) == 0 {
			steps = defaultSteps(info.Steps)
		}

		for i, spec := range steps {
			node := Node{
				ID:          nodeID(wf.Technique, spec.Step),
				Technique:   wf.Technique,
				Step:        spec.Step,
				TotalSteps:  len(steps),
				Description: spec.Description,
				// Steps of a fully parallel technique can be dropped
				// without invalidating the rest of the group.
				CanSkipIfFailed: info.Kind == technique.KindParallel,
			}
			node.Dependencies = intraDeps(info.Kind, wf.Technique, i, len(steps))
			if i == 0 && mode == ModeSequential && prevLast != "" {
				node.Dependencies = append(node.Dependencies, Dependency{NodeID: prevLast, Kind: Hard})
			}
			g.Nodes = append(g.Nodes, node)
		}
		prevLast = g.Nodes[len(g.Nodes)-1].ID
	}

	if err := validate(g); err != nil {
		return nil, err
	}

	g.ParallelGroups = parallelGroups(g.Nodes)
	g.Levels = levels(g.Nodes)
	g.CriticalPath = criticalPath(g.Nodes)
	for _, group := range g.ParallelGroups {
		if len(group) > g.MaxParallelism {
			g.MaxParallelism = len(group)
		}
	}
	g.SequentialTimeMultiplier = multiplier(g.MaxParallelism)
	g.RecommendedStrategy = strategy(g)
	g.Instructions = instructions(g)
	return g, nil
}

// nodeID builds a deterministic node identifier.
func nodeID(techniqueName string, step int) string {
	return fmt.Sprintf("%s_step_%d", techniqueName, step)
}

// defaultSteps fills in 1..n step specs when the workflow omits them.
func defaultSteps(n int) []StepSpec {
	specs := make([]StepSpec, n)
	for i := range specs {
		specs[i] = StepSpec{Step: i + 1}
	}
	return specs
}

// intraDeps returns the dependency list for step index i (0-based) of a
// technique, per its classification.
func intraDeps(kind technique.Kind, techniqueName string, i, total int) []Dependency {
	switch kind {
	case technique.KindParallel:
		return nil
	case technique.KindSequential:
		if i == 0 {
			return nil
		}
		return []Dependency{{NodeID: nodeID(techniqueName, i), Kind: Hard}}
	case technique.KindHybrid:
		return hybridDeps(techniqueName, i, total)
	}
	return nil
}

// hybridDeps encodes per-technique hybrid patterns. The general shape is:
// the first step gates independent middle steps, and a synthesis step
// hard-depends on all of them.
func hybridDeps(techniqueName string, i, total int) []Dependency {
	switch {
	case i == 0:
		return nil
	case i < total-2:
		// Middle steps hang off the first step; ordering between them is
		// advisory only.
		deps := []Dependency{{NodeID: nodeID(techniqueName, 1), Kind: Hard}}
		if i > 1 {
			deps = append(deps, Dependency{NodeID: nodeID(techniqueName, i), Kind: Soft})
		}
		return deps
	case i == total-2:
		// Synthesis step: hard-depends on every middle step.
		var deps []Dependency
		for s := 2; s < total-1; s++ {
			deps = append(deps, Dependency{NodeID: nodeID(techniqueName, s), Kind: Hard})
		}
		return deps
	default:
		// Final step follows the synthesis step.
		return []Dependency{{NodeID: nodeID(techniqueName, total-1), Kind: Hard}}
	}
}

// validate checks the declaration-order invariant: every dependency must
// reference a node that appears earlier in the graph.
func validate(g *ExecutionGraph) error {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}
	for i, n := range g.Nodes {
		for _, d := range n.Dependencies {
			j, ok := index[d.NodeID]
			if !ok {
				return fmt.Errorf("node %s depends on unknown node %s", n.ID, d.NodeID)
			}
			if j >= i {
				return fmt.Errorf("node %s depends on later node %s", n.ID, d.NodeID)
			}
		}
	}
	return nil
}

// parallelGroups partitions nodes by technique plus the sorted set of hard
// dependencies. Nodes sharing a signature have identical blocking
// prerequisites and can run concurrently. O(n) over a signature map;
// group order follows first declaration for determinism.
func parallelGroups(nodes []Node) [][]string {
	var order []string
	bySig := make(map[string][]string)
	for _, n := range nodes {
		hard := n.HardDependencies()
		sort.Strings(hard)
		sig := n.Technique + "::" + strings.Join(hard, "|")
		if _, seen := bySig[sig]; !seen {
			order = append(order, sig)
		}
		bySig[sig] = append(bySig[sig], n.ID)
	}
	groups := make([][]string, 0, len(order))
	for _, sig := range order {
		groups = append(groups, bySig[sig])
	}
	return groups
}

// levels computes the Kahn wave view over hard edges: wave 0 is every node
// with no unresolved hard dependencies, and so on. Nodes within a wave are
// listed in declaration order.
func levels(nodes []Node) [][]string {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(n.HardDependencies())
		for _, dep := range n.HardDependencies() {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	remaining := len(nodes)
	done := make(map[string]bool, len(nodes))
	var waves [][]string
	for remaining > 0 {
		var wave []string
		for _, n := range nodes {
			if !done[n.ID] && inDegree[n.ID] == 0 {
				wave = append(wave, n.ID)
			}
		}
		if len(wave) == 0 {
			// Cycle; validate() prevents this, but never loop forever.
			break
		}
		for _, id := range wave {
			done[id] = true
			remaining--
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

// criticalPath returns the longest chain over hard edges, found by
// depth-first search from every root. Ties resolve to the earliest-declared
// chain.
func criticalPath(nodes []Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.HardDependencies() {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	memo := make(map[string][]string, len(nodes))
	var longestFrom func(id string) []string
	longestFrom = func(id string) []string {
		if cached, ok := memo[id]; ok {
			return cached
		}
		var best []string
		for _, next := range dependents[id] {
			if chain := longestFrom(next); len(chain) > len(best) {
				best = chain
			}
		}
		path := append([]string{id}, best...)
		memo[id] = path
		return path
	}

	var best []string
	for _, n := range nodes {
		if len(n.HardDependencies()) != 0 {
			continue
		}
		if path := longestFrom(n.ID); len(path) > len(best) {
			best = path
		}
	}
	return best
}

// multiplier maps the parallelism headroom to a qualitative 1x..10x
// speedup estimate for running the plan sequentially instead.
func multiplier(maxParallelism int) int {
	switch {
	case maxParallelism <= 1:
		return 1
	case maxParallelism >= 10:
		return 10
	default:
		return maxParallelism
	}
}

// strategy recommends how to schedule the graph.
func strategy(g *ExecutionGraph) string {
	hardEdges := 0
	for _, n := range g.Nodes {
		hardEdges += len(n.HardDependencies())
	}
	switch {
	case len(g.Nodes) <= 1 || g.MaxParallelism <= 1:
		return "sequential"
	case hardEdges == 0:
		return "parallel"
	default:
		return "hybrid"
	}
}

func instructions(g *ExecutionGraph) string {
	if len(g.Nodes) == 0 {
		return "empty workflow: nothing to execute"
	}
	return fmt.Sprintf(
		"%d steps in %d waves; up to %d can run concurrently (strategy: %s, ~%dx faster than sequential)",
		len(g.Nodes), len(g.Levels), g.MaxParallelism, g.RecommendedStrategy, g.SequentialTimeMultiplier)
}
