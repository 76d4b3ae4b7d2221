package orchestrator

import (
	"sort"
	"strings"

	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/technique"
	"github.com/trellis-dev/trellis/prompts"
)

// Recommendation is one scored technique suggestion.
type Recommendation struct {
	Technique string  `json:"technique"`
	Steps     int     `json:"steps"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// DiscoverResult is the output of problem analysis.
type DiscoverResult struct {
	Problem         string           `json:"problem"`
	Recommendations []Recommendation `json:"recommendations"`
	// SuggestParallel is set when several techniques score closely enough
	// that running them as a parallel group is worthwhile.
	SuggestParallel bool   `json:"suggestParallel"`
	Guidance        string `json:"guidance,omitempty"`
}

// signal maps problem-statement vocabulary to a technique.
type signal struct {
	technique string
	keywords  []string
	reason    string
}

var signals = []signal{
	{"six_hats", []string{"decision", "evaluate", "perspective", "risk", "stakeholder"},
		"structured multi-perspective evaluation"},
	{"scamper", []string{"improve", "existing", "product", "redesign", "feature"},
		"systematic transformation of something that already exists"},
	{"random_entry", []string{"stuck", "fresh", "unconventional", "breakthrough"},
		"forced lateral jump out of a rut"},
	{"po", []string{"assumption", "provocation", "challenge", "status quo"},
		"provocative reframing of entrenched assumptions"},
	{"triz", []string{"contradiction", "tradeoff", "trade-off", "conflict", "constraint"},
		"resolving a technical contradiction without compromise"},
	{"nine_windows", []string{"system", "evolution", "context", "timeline", "future"},
		"mapping the problem across system levels and time"},
	{"design_thinking", []string{"user", "customer", "experience", "usability", "journey"},
		"user-centered iteration from empathy to prototype"},
	{"concept_extraction", []string{"analogy", "pattern", "succeeded", "elsewhere", "similar"},
		"transferring patterns from a known success"},
	{"yes_and", []string{"team", "collaborative", "brainstorm", "build on"},
		"additive collaborative ideation"},
	{"disney_method", []string{"vision", "plan", "implement", "feasibility"},
		"separating dreaming, planning, and critique"},
}

// Discover scores techniques against the problem statement. It never
// fails: an unmatched problem still gets general-purpose recommendations.
func (o *Orchestrator) Discover(problem string) DiscoverResult {
	lower := strings.ToLower(problem)

	scores := make(map[string]float64)
	reasons := make(map[string]string)
	for _, sig := range signals {
		for _, kw := range sig.keywords {
			if strings.Contains(lower, kw) {
				scores[sig.technique] += 0.25
				reasons[sig.technique] = sig.reason
			}
		}
	}

	// six_hats is the general-purpose default when nothing else matches.
	if _, ok := scores["six_hats"]; !ok {
		scores["six_hats"] = 0.3
		reasons["six_hats"] = "broad multi-perspective coverage for any problem"
	}

	recs := make([]Recommendation, 0, len(scores))
	for name, score := range scores {
		if score > 1.0 {
			score = 1.0
		}
		info, _ := technique.Lookup(name)
		recs = append(recs, Recommendation{
			Technique: name,
			Steps:     info.Steps,
			Score:     score,
			Reason:    reasons[name],
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Technique < recs[j].Technique
	})
	if len(recs) > 4 {
		recs = recs[:4]
	}

	result := DiscoverResult{
		Problem:         problem,
		Recommendations: recs,
		SuggestParallel: len(recs) >= 2 && recs[1].Score >= recs[0].Score*0.6,
		Guidance:        prompts.DiscoveryGuidance,
	}

	o.guard.RecordDiscover()
	o.logger.Debug().Int("recommendations", len(recs)).Msg("discovery complete")
	if o.events != nil {
		_ = o.events.Append(log.LogEvent{
			Event: log.EventDiscoverComplete,
			Total: len(recs),
		})
	}
	return result
}
