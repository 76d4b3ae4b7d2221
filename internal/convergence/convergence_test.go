package convergence

import (
	"reflect"
	"strings"
	"testing"
)

func TestExecuteRejectsEmptyResults(t *testing.T) {
	_, err := NewExecutor().Execute(Input{Step: 1})
	if err == nil {
		t.Fatal("expected error for empty parallelResults")
	}
	if !strings.Contains(err.Error(), "non-empty") {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteRejectsOutOfRangeStep(t *testing.T) {
	results := []Result{{SessionID: "s1", Technique: "six_hats", Insights: []string{"x"}}}
	for _, step := range []int{0, 4, -1} {
		if _, err := NewExecutor().Execute(Input{Step: step, ParallelResults: results}); err == nil {
			t.Errorf("step %d accepted", step)
		}
	}
}

func TestExecuteStepProgression(t *testing.T) {
	results := []Result{{SessionID: "s1", Technique: "six_hats", Insights: []string{"x"}}}
	e := NewExecutor()

	for step := 1; step <= TotalSteps; step++ {
		out, err := e.Execute(Input{Step: step, ParallelResults: results})
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if out.TotalSteps != TotalSteps {
			t.Errorf("step %d: TotalSteps = %d", step, out.TotalSteps)
		}
		wantNext := step < TotalSteps
		if out.NextStepNeeded != wantNext {
			t.Errorf("step %d: NextStepNeeded = %v, want %v", step, out.NextStepNeeded, wantNext)
		}
	}
}

func TestCategorize(t *testing.T) {
	results := []Result{
		{Technique: "six_hats", Insights: []string{
			"This carries a real security risk",
			"A clear opportunity to simplify the flow",
		}},
		{Technique: "scamper", Insights: []string{
			"We must stay within the existing budget",
			"Implement the retry path first",
			"The sky is blue",
		}},
	}
	out, err := NewExecutor().Execute(Input{Step: 1, ParallelResults: results})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := make(map[string][]string, len(out.Categories))
	for _, c := range out.Categories {
		got[c.Label] = c.Insights
	}
	want := map[string][]string{
		"risks":         {"This carries a real security risk"},
		"opportunities": {"A clear opportunity to simplify the flow"},
		"constraints":   {"We must stay within the existing budget"},
		"actions":       {"Implement the retry path first"},
		"observations":  {"The sky is blue"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("categories = %v, want %v", got, want)
	}
}

func TestDetectSynergy(t *testing.T) {
	results := []Result{
		{Technique: "six_hats", Insights: []string{"Focus effort on caching to cut latency"}},
		{Technique: "scamper", Insights: []string{"Caching reduces pressure on the primary database"}},
	}
	out, err := NewExecutor().Execute(Input{Step: 2, ParallelResults: results})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Patterns) != 1 {
		t.Fatalf("patterns = %v, want exactly one shared theme", out.Patterns)
	}
	p := out.Patterns[0]
	if p.Kind != "synergy" || p.Theme != "caching" {
		t.Errorf("pattern = %+v, want caching synergy", p)
	}
	if !reflect.DeepEqual(p.Techniques, []string{"scamper", "six_hats"}) {
		t.Errorf("techniques = %v", p.Techniques)
	}
}

func TestDetectConflict(t *testing.T) {
	results := []Result{
		{Technique: "six_hats", Insights: []string{"Caching gives the biggest win"}},
		{Technique: "triz", Insights: []string{"We should avoid caching entirely"}},
	}
	out, err := NewExecutor().Execute(Input{Step: 2, ParallelResults: results})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var conflict *Pattern
	for i := range out.Patterns {
		if out.Patterns[i].Theme == "caching" {
			conflict = &out.Patterns[i]
		}
	}
	if conflict == nil {
		t.Fatalf("no caching pattern in %v", out.Patterns)
	}
	if conflict.Kind != "conflict" {
		t.Errorf("kind = %q, want conflict", conflict.Kind)
	}
}

func TestRecommendPrioritizesPatterns(t *testing.T) {
	results := []Result{
		{Technique: "six_hats", Insights: []string{
			"Caching gives the biggest win",
			"Automation saves review time",
		}},
		{Technique: "triz", Insights: []string{
			"We should avoid caching entirely",
			"Automation removes the bottleneck",
		}},
	}
	out, err := NewExecutor().Execute(Input{Step: 3, ParallelResults: results})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawSynergy, sawConflict bool
	for _, rec := range out.Recommendations {
		if strings.Contains(rec, `Prioritize "automation"`) {
			sawSynergy = true
		}
		if strings.Contains(rec, `disagreement about "caching"`) {
			sawConflict = true
		}
	}
	if !sawSynergy {
		t.Errorf("no synergy recommendation in %v", out.Recommendations)
	}
	if !sawConflict {
		t.Errorf("no conflict recommendation in %v", out.Recommendations)
	}
}

func TestRecommendFallsBackPerTechnique(t *testing.T) {
	results := []Result{
		{Technique: "po", Insights: []string{"Reverse the onboarding order"}},
		{Technique: "triz", Insights: nil},
	}
	out, err := NewExecutor().Execute(Input{Step: 3, ParallelResults: results})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"[po] Reverse the onboarding order"}
	if !reflect.DeepEqual(out.Recommendations, want) {
		t.Errorf("recommendations = %v, want %v", out.Recommendations, want)
	}
}
