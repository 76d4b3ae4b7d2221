package orchestrator

import (
	"fmt"

	"github.com/trellis-dev/trellis/internal/convergence"
	"github.com/trellis-dev/trellis/prompts"
)

// Converge runs one convergence step. When the input names a group but
// carries no results, the member sessions' accumulated insights are
// gathered automatically.
func (o *Orchestrator) Converge(in convergence.Input) (*convergence.Output, error) {
	if len(in.ParallelResults) == 0 && in.GroupID != "" {
		results, err := o.gatherGroupResults(in.GroupID)
		if err != nil {
			return nil, err
		}
		in.ParallelResults = results
	}
	out, err := o.conv.Execute(in)
	if err != nil {
		return nil, err
	}
	if in.Step == 1 {
		out.Guidance = prompts.ConvergenceGuidance
	}
	o.logger.Debug().
		Int("step", in.Step).
		Int("results", len(in.ParallelResults)).
		Msg("convergence step executed")
	return out, nil
}

// gatherGroupResults builds convergence inputs from a group's member
// sessions.
func (o *Orchestrator) gatherGroupResults(groupID string) ([]convergence.Result, error) {
	group, err := o.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	results := make([]convergence.Result, 0, len(group.SessionIDs))
	for _, id := range group.SessionIDs {
		sess, err := o.store.GetSession(id)
		if err != nil {
			continue // evicted members contribute nothing
		}
		var lastOutput string
		if n := len(sess.History); n > 0 {
			lastOutput = sess.History[n-1].Output
		}
		results = append(results, convergence.Result{
			SessionID: sess.ID,
			Technique: sess.Technique,
			Insights:  append([]string(nil), sess.Insights...),
			Output:    lastOutput,
		})
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("converging group %s: no member sessions with results", groupID)
	}
	return results, nil
}
