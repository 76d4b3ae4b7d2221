// Package technique defines the catalogue of thinking techniques and the
// content-collaborator interface that supplies per-step guidance.
package technique

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies how a technique's steps relate to each other.
type Kind string

const (
	// KindParallel means every step is independent of the others.
	KindParallel Kind = "parallel"
	// KindSequential means each step hard-depends on the previous one.
	KindSequential Kind = "sequential"
	// KindHybrid means the technique has its own dependency pattern
	// mixing hard and soft edges.
	KindHybrid Kind = "hybrid"
)

// Info describes a registered technique.
type Info struct {
	Name  string
	Steps int
	Kind  Kind
}

// catalogue is the built-in technique table. Step counts and kinds are
// fixed; adding a technique here is the only registration step needed.
var catalogue = map[string]Info{
	"six_hats":           {Name: "six_hats", Steps: 6, Kind: KindParallel},
	"nine_windows":       {Name: "nine_windows", Steps: 9, Kind: KindParallel},
	"scamper":            {Name: "scamper", Steps: 8, Kind: KindSequential},
	"po":                 {Name: "po", Steps: 4, Kind: KindSequential},
	"random_entry":       {Name: "random_entry", Steps: 3, Kind: KindSequential},
	"concept_extraction": {Name: "concept_extraction", Steps: 4, Kind: KindSequential},
	"yes_and":            {Name: "yes_and", Steps: 4, Kind: KindSequential},
	"triz":               {Name: "triz", Steps: 4, Kind: KindSequential},
	"disney_method":      {Name: "disney_method", Steps: 3, Kind: KindSequential},
	"design_thinking":    {Name: "design_thinking", Steps: 5, Kind: KindHybrid},
	"convergence":        {Name: "convergence", Steps: 3, Kind: KindSequential},
}

// Lookup returns the Info for a technique name.
func Lookup(name string) (Info, bool) {
	info, ok := catalogue[name]
	return info, ok
}

// All returns every registered technique sorted by name.
func All() []Info {
	infos := make([]Info, 0, len(catalogue))
	for _, info := range catalogue {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Handler is the technique content collaborator. Implementations produce
// guidance text, validate step-specific fields, and extract insights from
// raw step outputs. Handlers must be pure: same inputs, same outputs.
type Handler interface {
	// StepGuidance returns guidance text for working the given step of the
	// technique against the problem.
	StepGuidance(step int, problem string) string
	// ValidateStep reports whether the step number and step data are
	// acceptable for this technique.
	ValidateStep(step int, data map[string]any) bool
	// ExtractInsights derives insight strings from prior step outputs.
	ExtractInsights(outputs []string) []string
}

// Registry maps technique names to their content handlers. A nil handler
// entry falls back to the built-in template handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry with the built-in handler registered for
// every catalogued technique.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(catalogue))}
	for name := range catalogue {
		r.handlers[name] = &templateHandler{technique: name}
	}
	return r
}

// Register installs a custom handler for a technique, replacing the
// built-in one.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Handler returns the content handler for a technique.
func (r *Registry) Handler(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler for technique %q", name)
	}
	return h, nil
}

// stepLabels holds short per-step labels used by the template handler.
var stepLabels = map[string][]string{
	"six_hats": {
		"blue hat: process and overview",
		"white hat: facts and information",
		"red hat: emotions and intuition",
		"yellow hat: benefits and value",
		"black hat: risks and caution",
		"green hat: creativity and alternatives",
	},
	"scamper": {
		"substitute", "combine", "adapt", "magnify", "put to other use",
		"eliminate", "reverse", "parameterize",
	},
	"po": {
		"state the provocation", "suspend judgment",
		"extract movement", "develop practical ideas",
	},
	"random_entry": {
		"introduce the random stimulus", "generate associations",
		"bridge back to the problem",
	},
	"concept_extraction": {
		"identify a success example", "extract the underlying concepts",
		"abstract the patterns", "apply patterns to the problem",
	},
	"yes_and": {
		"accept the premise", "build on it",
		"evaluate additions critically", "integrate into a solution",
	},
	"triz": {
		"state the contradiction", "remove compromise thinking",
		"apply inventive principles", "minimize the system",
	},
	"disney_method": {
		"dreamer: envision without limits", "realist: plan concretely",
		"critic: stress-test the plan",
	},
	"design_thinking": {
		"empathize with users", "define the problem", "ideate solutions",
		"prototype the strongest idea", "test and iterate",
	},
	"nine_windows": {
		"past sub-system", "past system", "past super-system",
		"present sub-system", "present system", "present super-system",
		"future sub-system", "future system", "future super-system",
	},
	"convergence": {
		"categorize insights from all results",
		"detect synergies and conflicts",
		"produce unified recommendations",
	},
}

// templateHandler is the built-in Handler. It renders guidance from the
// step label table and extracts insights with a small lexical heuristic.
type templateHandler struct {
	technique string
}

func (h *templateHandler) StepGuidance(step int, problem string) string {
	labels := stepLabels[h.technique]
	if step < 1 || step > len(labels) {
		return fmt.Sprintf("Continue working on: %s", problem)
	}
	return fmt.Sprintf("Step %d of %s (%s). Apply this lens to: %s",
		step, h.technique, labels[step-1], problem)
}

func (h *templateHandler) ValidateStep(step int, data map[string]any) bool {
	info, ok := catalogue[h.technique]
	if !ok {
		return false
	}
	if step < 1 || step > info.Steps {
		return false
	}
	// Step data is free-form; reject only non-string "output" values.
	if v, present := data["output"]; present {
		if _, isString := v.(string); !isString {
			return false
		}
	}
	return true
}

// insightMarkers are phrases that promote a sentence to an insight.
var insightMarkers = []string{
	"realize", "insight", "key", "because", "therefore", "suggests",
	"we should", "this means", "leads to",
}

func (h *templateHandler) ExtractInsights(outputs []string) []string {
	var insights []string
	seen := make(map[string]bool)
	for _, out := range outputs {
		for _, sentence := range strings.Split(out, ".") {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || seen[sentence] {
				continue
			}
			lower := strings.ToLower(sentence)
			for _, marker := range insightMarkers {
				if strings.Contains(lower, marker) {
					insights = append(insights, sentence)
					seen[sentence] = true
					break
				}
			}
		}
	}
	return insights
}
