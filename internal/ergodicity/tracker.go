// tracker.go assesses each executed step and decides when to generate
// recovery options.
package ergodicity

import "fmt"

// Assessment is the ergodicity view of one executed step.
type Assessment struct {
	Impact           Impact   `json:"impact"`
	FlexibilityScore float64  `json:"flexibilityScore"`
	OptionsTriggered bool     `json:"optionsTriggered"`
	Options          []Option `json:"options,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Tracker is the per-process ergodicity engine: it computes impacts,
// appends them to the caller's path memory, and invokes the option engine
// when the flexibility score drops below the trigger threshold.
type Tracker struct {
	engine *Engine
}

// NewTracker returns a Tracker with the default option engine.
func NewTracker() *Tracker {
	return &Tracker{engine: NewEngine()}
}

// Engine exposes the option engine for strategy registration.
func (t *Tracker) Engine() *Engine {
	return t.engine
}

// AssessStep computes the step's impact, records it in pm, and generates
// options when flexibility has collapsed. Option generation failure is
// non-fatal: the assessment is returned without options.
func (t *Tracker) AssessStep(pm *PathMemory, techniqueName, problem string, step int, output string, explicit *Impact) Assessment {
	impact := ComputeImpact(techniqueName, output, explicit)
	pm.Record(Decision{
		Step:        step,
		Technique:   techniqueName,
		Description: describe(techniqueName, step, impact),
		Impact:      impact,
	})

	assessment := Assessment{
		Impact:           impact,
		FlexibilityScore: pm.FlexibilityScore(),
	}
	if len(pm.AbsorbingBarriers) > 0 {
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("%d absorbing barrier(s) on this path", len(pm.AbsorbingBarriers)))
	}

	if assessment.FlexibilityScore < OptionTrigger {
		assessment.OptionsTriggered = true
		assessment.Options = t.engine.Generate(Context{
			Problem:          problem,
			Technique:        techniqueName,
			FlexibilityScore: assessment.FlexibilityScore,
			Memory:           pm,
		})
	}
	return assessment
}

func describe(techniqueName string, step int, impact Impact) string {
	if impact.ReversibilityCost >= BarrierThreshold {
		return fmt.Sprintf("%s step %d (hard to reverse)", techniqueName, step)
	}
	return fmt.Sprintf("%s step %d", techniqueName, step)
}
