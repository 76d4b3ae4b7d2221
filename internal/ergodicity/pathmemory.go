// Package ergodicity tracks how much decision freedom a session has left.
// Every executed step is scored for the options it opens and closes; when
// the resulting flexibility collapses, the option engine generates
// corrective actions.
package ergodicity

import (
	"strings"
	"time"
)

// Impact quantifies what one step did to the session's option space.
type Impact struct {
	OptionsClosed     []string `json:"optionsClosed,omitempty"`
	OptionsOpened     []string `json:"optionsOpened,omitempty"`
	ReversibilityCost float64  `json:"reversibilityCost"` // 0 = free to undo, 1 = permanent
	CommitmentLevel   float64  `json:"commitmentLevel"`   // 0 = exploratory, 1 = locked in
}

// Decision is one appended path-memory entry.
type Decision struct {
	Step        int       `json:"step"`
	Technique   string    `json:"technique"`
	Description string    `json:"description"`
	Impact      Impact    `json:"impact"`
	Timestamp   time.Time `json:"timestamp"`
}

// PathMemory is the append-only decision history of a session. It grows
// monotonically until the session ends.
type PathMemory struct {
	Decisions          []Decision `json:"decisions"`
	Constraints        []string   `json:"constraints,omitempty"`
	FlexibilityHistory []float64  `json:"flexibilityHistory"`
	AbsorbingBarriers  []string   `json:"absorbingBarriers,omitempty"`
	EscapeRoutes       []string   `json:"escapeRoutes,omitempty"`
}

// NewPathMemory returns an empty path memory with full flexibility.
func NewPathMemory() *PathMemory {
	return &PathMemory{FlexibilityHistory: []float64{1.0}}
}

// Clone returns a deep copy detached from the original.
func (pm *PathMemory) Clone() *PathMemory {
	if pm == nil {
		return nil
	}
	return &PathMemory{
		Decisions:          append([]Decision(nil), pm.Decisions...),
		Constraints:        append([]string(nil), pm.Constraints...),
		FlexibilityHistory: append([]float64(nil), pm.FlexibilityHistory...),
		AbsorbingBarriers:  append([]string(nil), pm.AbsorbingBarriers...),
		EscapeRoutes:       append([]string(nil), pm.EscapeRoutes...),
	}
}

// FlexibilityScore returns the latest score, 1.0 for a fresh memory.
func (pm *PathMemory) FlexibilityScore() float64 {
	if len(pm.FlexibilityHistory) == 0 {
		return 1.0
	}
	return pm.FlexibilityHistory[len(pm.FlexibilityHistory)-1]
}

// BarrierThreshold marks a decision as an absorbing barrier: practically
// impossible to undo.
const BarrierThreshold = 0.9

// Record appends a decision, recomputes the flexibility series, and
// updates constraints and barriers.
func (pm *PathMemory) Record(d Decision) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	pm.Decisions = append(pm.Decisions, d)

	score := pm.FlexibilityScore()
	score -= 0.10 * d.Impact.CommitmentLevel
	score -= 0.10 * d.Impact.ReversibilityCost
	score -= 0.02 * float64(len(d.Impact.OptionsClosed))
	score += 0.03 * float64(len(d.Impact.OptionsOpened))
	score = clamp01(score)
	pm.FlexibilityHistory = append(pm.FlexibilityHistory, score)

	for _, closed := range d.Impact.OptionsClosed {
		pm.Constraints = appendUnique(pm.Constraints, "foreclosed: "+closed)
	}
	for _, opened := range d.Impact.OptionsOpened {
		pm.EscapeRoutes = appendUnique(pm.EscapeRoutes, opened)
	}
	if d.Impact.ReversibilityCost >= BarrierThreshold {
		pm.AbsorbingBarriers = appendUnique(pm.AbsorbingBarriers, d.Description)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// commitmentTerms are verbs and phrases that signal a hard-to-reverse
// decision when they appear in step output.
var commitmentTerms = []string{
	"irreversible", "permanent", "finalize", "finalized", "commit to",
	"lock in", "locked in", "eliminate", "delete", "discard", "abandon",
	"never", "always", "must", "only option", "no alternative",
}

// Profile is a technique-level default impact applied when a step supplies
// no explicit impact data.
type Profile struct {
	ReversibilityCost float64
	CommitmentLevel   float64
}

// profiles maps technique names to their default impact. Divergent
// techniques barely commit; convergent ones narrow the option space.
var profiles = map[string]Profile{
	"six_hats":           {ReversibilityCost: 0.05, CommitmentLevel: 0.10},
	"nine_windows":       {ReversibilityCost: 0.05, CommitmentLevel: 0.10},
	"scamper":            {ReversibilityCost: 0.10, CommitmentLevel: 0.15},
	"po":                 {ReversibilityCost: 0.05, CommitmentLevel: 0.10},
	"random_entry":       {ReversibilityCost: 0.05, CommitmentLevel: 0.10},
	"concept_extraction": {ReversibilityCost: 0.10, CommitmentLevel: 0.20},
	"yes_and":            {ReversibilityCost: 0.10, CommitmentLevel: 0.20},
	"triz":               {ReversibilityCost: 0.20, CommitmentLevel: 0.30},
	"disney_method":      {ReversibilityCost: 0.15, CommitmentLevel: 0.25},
	"design_thinking":    {ReversibilityCost: 0.20, CommitmentLevel: 0.30},
	"convergence":        {ReversibilityCost: 0.35, CommitmentLevel: 0.50},
}

// ComputeImpact derives an Impact from explicit step data, or from the
// technique profile plus a lexical scan of the output for high-commitment
// language.
func ComputeImpact(techniqueName, output string, explicit *Impact) Impact {
	if explicit != nil {
		impact := *explicit
		impact.ReversibilityCost = clamp01(impact.ReversibilityCost)
		impact.CommitmentLevel = clamp01(impact.CommitmentLevel)
		return impact
	}

	profile, ok := profiles[techniqueName]
	if !ok {
		profile = Profile{ReversibilityCost: 0.10, CommitmentLevel: 0.15}
	}

	impact := Impact{
		ReversibilityCost: profile.ReversibilityCost,
		CommitmentLevel:   profile.CommitmentLevel,
	}
	lower := strings.ToLower(output)
	for _, term := range commitmentTerms {
		if strings.Contains(lower, term) {
			impact.CommitmentLevel = clamp01(impact.CommitmentLevel + 0.15)
			impact.ReversibilityCost = clamp01(impact.ReversibilityCost + 0.10)
			impact.OptionsClosed = append(impact.OptionsClosed, "language signal: "+term)
		}
	}
	return impact
}
