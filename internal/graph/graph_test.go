package graph

import (
	"reflect"
	"testing"

	"github.com/trellis-dev/trellis/internal/technique"
)

func workflows(t *testing.T, names ...string) []TechniqueWorkflow {
	t.Helper()
	var wfs []TechniqueWorkflow
	for _, name := range names {
		info, ok := technique.Lookup(name)
		if !ok {
			t.Fatalf("unknown technique %q", name)
		}
		wfs = append(wfs, TechniqueWorkflow{Technique: name, Steps: defaultSteps(info.Steps)})
	}
	return wfs
}

func TestBuildSixHatsScamper(t *testing.T) {
	g, err := Build(workflows(t, "six_hats", "scamper"), ModeParallel)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(g.Nodes) != 14 {
		t.Errorf("expected 14 nodes, got %d", len(g.Nodes))
	}
	if g.MaxParallelism != 6 {
		t.Errorf("expected maxParallelism 6, got %d", g.MaxParallelism)
	}
	if g.SequentialTimeMultiplier != 6 {
		t.Errorf("expected multiplier 6, got %d", g.SequentialTimeMultiplier)
	}
	if g.RecommendedStrategy != "hybrid" {
		t.Errorf("expected hybrid strategy, got %q", g.RecommendedStrategy)
	}

	// six_hats steps share one parallel group; each scamper step stands
	// alone behind its predecessor.
	if len(g.ParallelGroups) != 9 {
		t.Errorf("expected 9 parallel groups, got %d", len(g.ParallelGroups))
	}
	if len(g.ParallelGroups[0]) != 6 {
		t.Errorf("expected six_hats group of 6, got %d", len(g.ParallelGroups[0]))
	}

	// The critical path is the scamper chain.
	want := []string{
		"scamper_step_1", "scamper_step_2", "scamper_step_3", "scamper_step_4",
		"scamper_step_5", "scamper_step_6", "scamper_step_7", "scamper_step_8",
	}
	if !reflect.DeepEqual(g.CriticalPath, want) {
		t.Errorf("critical path mismatch:\n got %v\nwant %v", g.CriticalPath, want)
	}

	// Wave 0 holds everything with no hard dependencies: all six hats plus
	// the first scamper step.
	if len(g.Levels) != 8 {
		t.Fatalf("expected 8 waves, got %d", len(g.Levels))
	}
	if len(g.Levels[0]) != 7 {
		t.Errorf("expected 7 nodes in wave 0, got %d", len(g.Levels[0]))
	}
}

func TestBuildDeterministic(t *testing.T) {
	a, err := Build(workflows(t, "six_hats", "triz", "scamper"), ModeParallel)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(workflows(t, "six_hats", "triz", "scamper"), ModeParallel)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same input produced different graphs")
	}
}

func TestBuildSequentialMode(t *testing.T) {
	g, err := Build(workflows(t, "six_hats", "scamper"), ModeSequential)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	first := g.NodeByID("scamper_step_1")
	if first == nil {
		t.Fatal("scamper_step_1 missing")
	}
	hard := first.HardDependencies()
	if len(hard) != 1 || hard[0] != "six_hats_step_6" {
		t.Errorf("expected scamper_step_1 to chain after six_hats_step_6, got %v", hard)
	}

	// Chaining extends the critical path through both techniques.
	if len(g.CriticalPath) != 9 {
		t.Errorf("expected critical path of 9, got %d: %v", len(g.CriticalPath), g.CriticalPath)
	}
}

func TestBuildDeclarationOrder(t *testing.T) {
	g, err := Build(workflows(t, "nine_windows", "design_thinking", "po"), ModeSequential)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}
	for i, n := range g.Nodes {
		for _, d := range n.Dependencies {
			if index[d.NodeID] >= i {
				t.Errorf("node %s depends on later node %s", n.ID, d.NodeID)
			}
		}
	}
}

func TestBuildHybridDesignThinking(t *testing.T) {
	g, err := Build(workflows(t, "design_thinking"), ModeParallel)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Empathize gates define and ideate; they can run concurrently.
	if g.MaxParallelism != 2 {
		t.Errorf("expected maxParallelism 2, got %d", g.MaxParallelism)
	}

	ideate := g.NodeByID("design_thinking_step_3")
	if ideate == nil {
		t.Fatal("design_thinking_step_3 missing")
	}
	var soft int
	for _, d := range ideate.Dependencies {
		if d.Kind == Soft {
			soft++
		}
	}
	if soft != 1 {
		t.Errorf("expected 1 soft dependency on step 3, got %d", soft)
	}

	proto := g.NodeByID("design_thinking_step_4")
	if got := len(proto.HardDependencies()); got != 2 {
		t.Errorf("expected prototype step to hard-depend on both middles, got %d", got)
	}
}

func TestBuildParallelTechniqueProperty(t *testing.T) {
	for _, info := range technique.All() {
		if info.Kind != technique.KindParallel {
			continue
		}
		g, err := Build(workflows(t, info.Name), ModeParallel)
		if err != nil {
			t.Fatalf("Build(%s) failed: %v", info.Name, err)
		}
		if g.MaxParallelism != info.Steps {
			t.Errorf("%s: expected maxParallelism %d, got %d", info.Name, info.Steps, g.MaxParallelism)
		}
		if g.RecommendedStrategy != "parallel" {
			t.Errorf("%s: expected parallel strategy, got %q", info.Name, g.RecommendedStrategy)
		}
		if len(g.Levels) != 1 {
			t.Errorf("%s: expected a single wave, got %d", info.Name, len(g.Levels))
		}
	}
}

func TestBuildUnknownTechnique(t *testing.T) {
	_, err := Build([]TechniqueWorkflow{{Technique: "mind_palace"}}, ModeParallel)
	if err == nil {
		t.Fatal("expected error for unknown technique")
	}
}

func TestBuildEmpty(t *testing.T) {
	g, err := Build(nil, ModeParallel)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Nodes) != 0 {
		t.Errorf("expected empty graph, got %d nodes", len(g.Nodes))
	}
	if g.RecommendedStrategy != "sequential" {
		t.Errorf("expected sequential strategy for empty graph, got %q", g.RecommendedStrategy)
	}
}

func TestMultiplierClamp(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 1}, {1, 1}, {4, 4}, {10, 10}, {25, 10},
	}
	for _, tc := range cases {
		if got := multiplier(tc.in); got != tc.want {
			t.Errorf("multiplier(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
