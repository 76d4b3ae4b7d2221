// Package convergence implements the fixed 3-step synthesis technique run
// over a completed parallel group: categorize insights, detect synergies
// and conflicts, produce unified recommendations.
package convergence

import (
	"fmt"
	"sort"
	"strings"
)

// Result is one member session's contribution to the synthesis.
type Result struct {
	SessionID string   `json:"sessionId"`
	Technique string   `json:"technique"`
	Insights  []string `json:"insights"`
	Output    string   `json:"output,omitempty"`
}

// Input is a single convergence step request.
type Input struct {
	Step            int      `json:"step"` // 1..3
	GroupID         string   `json:"groupId,omitempty"`
	ParallelResults []Result `json:"parallelResults"`
}

// Category groups related insights under a label.
type Category struct {
	Label    string   `json:"label"`
	Insights []string `json:"insights"`
}

// Pattern is a detected cross-technique synergy or conflict.
type Pattern struct {
	Kind       string   `json:"kind"` // synergy or conflict
	Theme      string   `json:"theme"`
	Techniques []string `json:"techniques"`
	Detail     string   `json:"detail"`
}

// Output is the result of one convergence step.
type Output struct {
	Step            int        `json:"step"`
	TotalSteps      int        `json:"totalSteps"`
	Categories      []Category `json:"categories,omitempty"`
	Patterns        []Pattern  `json:"patterns,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	NextStepNeeded  bool       `json:"nextStepNeeded"`
	Guidance        string     `json:"guidance,omitempty"`
}

// TotalSteps is the fixed length of the convergence technique.
const TotalSteps = 3

// Executor runs convergence steps. It is stateless: each call carries the
// full parallel results.
type Executor struct{}

// NewExecutor returns a convergence Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Execute validates and runs one convergence step.
func (e *Executor) Execute(in Input) (*Output, error) {
	if len(in.ParallelResults) == 0 {
		return nil, fmt.Errorf("convergence step %d: parallelResults must be non-empty", in.Step)
	}
	if in.Step < 1 || in.Step > TotalSteps {
		return nil, fmt.Errorf("convergence step must be 1..%d, got %d", TotalSteps, in.Step)
	}

	out := &Output{
		Step:           in.Step,
		TotalSteps:     TotalSteps,
		NextStepNeeded: in.Step < TotalSteps,
	}
	switch in.Step {
	case 1:
		out.Categories = categorize(in.ParallelResults)
	case 2:
		out.Patterns = detectPatterns(in.ParallelResults)
	case 3:
		out.Recommendations = recommend(in.ParallelResults)
	}
	return out, nil
}

// categoryKeywords drives step 1: an insight lands in the first category
// whose keyword it contains, else "observations".
var categoryKeywords = []struct {
	label    string
	keywords []string
}{
	{"risks", []string{"risk", "danger", "fail", "caution", "concern", "threat"}},
	{"opportunities", []string{"opportunity", "benefit", "value", "gain", "improve", "potential"}},
	{"constraints", []string{"constraint", "limit", "cannot", "blocked", "require", "must"}},
	{"actions", []string{"should", "do ", "implement", "build", "start", "try"}},
}

func categorize(results []Result) []Category {
	buckets := make(map[string][]string)
	var order []string
	add := func(label, insight string) {
		if _, seen := buckets[label]; !seen {
			order = append(order, label)
		}
		buckets[label] = append(buckets[label], insight)
	}

	for _, r := range results {
		for _, insight := range r.Insights {
			lower := strings.ToLower(insight)
			matched := false
			for _, cat := range categoryKeywords {
				for _, kw := range cat.keywords {
					if strings.Contains(lower, kw) {
						add(cat.label, insight)
						matched = true
						break
					}
				}
				if matched {
					break
				}
			}
			if !matched {
				add("observations", insight)
			}
		}
	}

	categories := make([]Category, 0, len(order))
	for _, label := range order {
		categories = append(categories, Category{Label: label, Insights: buckets[label]})
	}
	return categories
}

// detectPatterns finds themes shared across techniques (synergies) and
// themes where techniques pull in opposite directions (conflicts).
type mention struct {
	technique string
	positive  bool
}

func detectPatterns(results []Result) []Pattern {
	themes := make(map[string][]mention)

	for _, r := range results {
		for _, insight := range r.Insights {
			for _, word := range significantWords(insight) {
				themes[word] = append(themes[word], mention{
					technique: r.Technique,
					positive:  !isNegated(insight, word),
				})
			}
		}
	}

	var names []string
	for theme, mentions := range themes {
		if len(uniqueTechniques(mentions)) > 1 {
			names = append(names, theme)
		}
	}
	sort.Strings(names)

	var patterns []Pattern
	for _, theme := range names {
		mentions := themes[theme]
		techniques := uniqueTechniques(mentions)
		pos, neg := 0, 0
		for _, m := range mentions {
			if m.positive {
				pos++
			} else {
				neg++
			}
		}
		kind := "synergy"
		detail := fmt.Sprintf("%d techniques independently surfaced %q", len(techniques), theme)
		if pos > 0 && neg > 0 {
			kind = "conflict"
			detail = fmt.Sprintf("techniques disagree about %q", theme)
		}
		patterns = append(patterns, Pattern{
			Kind:       kind,
			Theme:      theme,
			Techniques: techniques,
			Detail:     detail,
		})
	}
	return patterns
}

func recommend(results []Result) []string {
	patterns := detectPatterns(results)
	var recs []string
	for _, p := range patterns {
		switch p.Kind {
		case "synergy":
			recs = append(recs, fmt.Sprintf(
				"Prioritize %q: independently confirmed by %s", p.Theme,
				strings.Join(p.Techniques, ", ")))
		case "conflict":
			recs = append(recs, fmt.Sprintf(
				"Resolve the disagreement about %q before committing", p.Theme))
		}
	}
	if len(recs) == 0 {
		// No cross-technique signal: fall back to the strongest per-technique insights.
		for _, r := range results {
			if len(r.Insights) > 0 {
				recs = append(recs, fmt.Sprintf("[%s] %s", r.Technique, r.Insights[0]))
			}
		}
	}
	return recs
}

// stopwords excluded from theme detection.
var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "should": true, "would": true, "could": true, "will": true,
	"have": true, "there": true, "about": true, "into": true, "more": true,
	"them": true, "then": true, "than": true, "when": true, "what": true,
	"because": true, "which": true, "their": true, "these": true,
}

func significantWords(s string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		if len(w) >= 4 && !stopwords[w] {
			words = append(words, w)
		}
	}
	return words
}

var negations = []string{"not", "no", "never", "avoid", "won't", "don't", "cannot"}

func isNegated(insight, word string) bool {
	lower := strings.ToLower(insight)
	idx := strings.Index(lower, word)
	if idx < 0 {
		return false
	}
	prefix := lower[:idx]
	for _, neg := range negations {
		if strings.Contains(prefix, neg+" ") {
			return true
		}
	}
	return false
}

func uniqueTechniques(mentions []mention) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentions {
		if !seen[m.technique] {
			seen[m.technique] = true
			out = append(out, m.technique)
		}
	}
	sort.Strings(out)
	return out
}
