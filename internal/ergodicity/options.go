// options.go implements corrective option generation for sessions whose
// flexibility has collapsed.
package ergodicity

import (
	"fmt"
	"sort"
)

// Flexibility thresholds. Below OptionTrigger the engine runs; below
// CriticalScore it favours aggressive strategies.
const (
	OptionTrigger = 0.4
	CriticalScore = 0.2
)

// Option is a generated corrective action. Options are ephemeral: produced
// on demand, never persisted as session state.
type Option struct {
	Strategy      string   `json:"strategy"`
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	Actions       []string `json:"actions"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Effort        string   `json:"effort"` // low | medium | high
}

// Context is what a strategy sees when deciding applicability and
// generating options.
type Context struct {
	Problem          string
	Technique        string
	FlexibilityScore float64
	Memory           *PathMemory
}

// Strategy produces candidate options for a low-flexibility session.
type Strategy interface {
	Name() string
	// TypicalGain is the flexibility improvement this strategy usually buys.
	TypicalGain() float64
	IsApplicable(ctx Context) bool
	// Generate returns 2-5 candidate options.
	Generate(ctx Context) []Option
}

// Engine ranks registered strategies and collects their options.
type Engine struct {
	strategies []Strategy
}

// NewEngine returns an Engine with the built-in strategies registered.
func NewEngine() *Engine {
	return &Engine{strategies: []Strategy{
		&decomposition{},
		&inversion{},
		&stakeholderReframe{},
		&constraintRelaxation{},
	}}
}

// Register adds a custom strategy.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Generate runs every applicable strategy and returns their options in
// priority order. When the score is critically low the largest
// typical-gain strategies come first; otherwise gentler strategies lead.
// An empty result is not an error: the caller proceeds without options.
func (e *Engine) Generate(ctx Context) []Option {
	applicable := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		if s.IsApplicable(ctx) {
			applicable = append(applicable, s)
		}
	}

	aggressiveFirst := ctx.FlexibilityScore < CriticalScore
	sort.SliceStable(applicable, func(i, j int) bool {
		if aggressiveFirst {
			return applicable[i].TypicalGain() > applicable[j].TypicalGain()
		}
		return applicable[i].TypicalGain() < applicable[j].TypicalGain()
	})

	var options []Option
	for _, s := range applicable {
		options = append(options, s.Generate(ctx)...)
	}
	return options
}

// --- Built-in strategies ---

type decomposition struct{}

func (*decomposition) Name() string         { return "decomposition" }
func (*decomposition) TypicalGain() float64 { return 0.30 }

func (*decomposition) IsApplicable(ctx Context) bool {
	// Decomposing helps once the session has accumulated real commitments.
	return ctx.Memory != nil && len(ctx.Memory.Decisions) > 0
}

func (*decomposition) Generate(ctx Context) []Option {
	return []Option{
		{
			Strategy:    "decomposition",
			Category:    "structural",
			Description: "Split the committed approach into independent sub-decisions that can be revisited separately",
			Actions: []string{
				"List the distinct commitments made so far",
				"Identify which commitments are actually coupled",
				"Re-open the uncoupled ones as separate questions",
			},
			Effort: "medium",
		},
		{
			Strategy:    "decomposition",
			Category:    "structural",
			Description: fmt.Sprintf("Carve a reversible pilot out of %q before committing fully", ctx.Problem),
			Actions: []string{
				"Define the smallest testable slice of the current direction",
				"Run the slice and measure before extending the commitment",
			},
			Prerequisites: []string{"a measurable success criterion"},
			Effort:        "low",
		},
	}
}

type inversion struct{}

func (*inversion) Name() string                { return "inversion" }
func (*inversion) TypicalGain() float64        { return 0.25 }
func (*inversion) IsApplicable(_ Context) bool { return true }

func (*inversion) Generate(ctx Context) []Option {
	return []Option{
		{
			Strategy:    "inversion",
			Category:    "perspective",
			Description: "Invert the current direction: ask what guarantees failure and avoid that instead",
			Actions: []string{
				"State the opposite of each active constraint",
				"Check which inverted constraints are actually viable",
			},
			Effort: "low",
		},
		{
			Strategy:    "inversion",
			Category:    "perspective",
			Description: "Work backwards from the desired end state to find paths the forward analysis missed",
			Actions: []string{
				"Describe the ideal outcome in concrete terms",
				"Derive the last step, then the one before it",
			},
			Effort: "medium",
		},
	}
}

type stakeholderReframe struct{}

func (*stakeholderReframe) Name() string         { return "stakeholder_reframe" }
func (*stakeholderReframe) TypicalGain() float64 { return 0.20 }

func (*stakeholderReframe) IsApplicable(ctx Context) bool {
	// Reframing needs a problem statement to reframe.
	return ctx.Problem != ""
}

func (*stakeholderReframe) Generate(ctx Context) []Option {
	return []Option{
		{
			Strategy:    "stakeholder_reframe",
			Category:    "perspective",
			Description: "Restate the problem from the perspective of each affected stakeholder",
			Actions: []string{
				"List everyone affected by the outcome",
				"Write the problem statement as each of them would",
				"Look for options that only appear in the reframed versions",
			},
			Effort: "medium",
		},
		{
			Strategy:    "stakeholder_reframe",
			Category:    "perspective",
			Description: "Ask who benefits from the current constraints staying in place",
			Actions: []string{
				"Map each constraint to the stakeholder it protects",
				"Negotiate the constraints that protect no one",
			},
			Effort: "low",
		},
	}
}

type constraintRelaxation struct{}

func (*constraintRelaxation) Name() string         { return "constraint_relaxation" }
func (*constraintRelaxation) TypicalGain() float64 { return 0.35 }

func (*constraintRelaxation) IsApplicable(ctx Context) bool {
	return ctx.Memory != nil && len(ctx.Memory.Constraints) > 0
}

func (*constraintRelaxation) Generate(ctx Context) []Option {
	options := []Option{
		{
			Strategy:    "constraint_relaxation",
			Category:    "structural",
			Description: "Challenge each accumulated constraint: is it real, assumed, or expired?",
			Actions: []string{
				"Classify every active constraint as hard, soft, or self-imposed",
				"Drop the self-imposed ones",
				"Time-box a re-test of the soft ones",
			},
			Effort: "medium",
		},
	}
	if len(ctx.Memory.AbsorbingBarriers) > 0 {
		options = append(options, Option{
			Strategy:    "constraint_relaxation",
			Category:    "recovery",
			Description: "Route around the irreversible commitments instead of trying to undo them",
			Actions: []string{
				"Accept the absorbing barriers as fixed terrain",
				"Generate options conditioned on them rather than against them",
			},
			Prerequisites: []string{"an explicit list of what cannot be undone"},
			Effort:        "high",
		})
	}
	return options
}
