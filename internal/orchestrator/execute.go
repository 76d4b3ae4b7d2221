package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/guard"
	"github.com/trellis-dev/trellis/internal/progress"
)

// ExecuteRequest is one step execution at the orchestrator boundary. A
// non-empty PlanID enables workflow-order validation and graph-derived
// skip semantics; without one the step runs ad hoc against its session.
type ExecuteRequest struct {
	PlanID string
	executor.Request
}

// ExecuteStep validates ordering, runs the step, and feeds the progress
// coordinator.
func (o *Orchestrator) ExecuteStep(ctx context.Context, req ExecuteRequest) (*executor.Result, error) {
	if req.PlanID != "" {
		if err := o.guard.CheckExecute(req.PlanID); err != nil {
			return nil, err
		}
		if err := o.applyPlan(&req); err != nil {
			return nil, err
		}
		o.guard.RecordExecute()
	}

	result, err := o.exec.Execute(ctx, req.Request)
	if err != nil {
		if req.GroupID != "" && req.SessionID != "" {
			if ferr := o.exec.MarkFailed(req.GroupID, req.SessionID, err.Error()); ferr == nil {
				o.recordProgress(req.GroupID, req.SessionID, req.Technique, req.Step, req.TotalSteps, progress.StatusFailed)
			}
		}
		return nil, err
	}

	if req.GroupID != "" {
		status := progressStatus(result)
		o.recordProgress(req.GroupID, result.SessionID, req.Technique, result.Step, result.TotalSteps, status)
		if result.Status == executor.StatusBlocked {
			if err := o.exec.MarkFailed(req.GroupID, result.SessionID, "blocked by failed dependency"); err != nil {
				o.logger.Warn().Err(err).Str("session", result.SessionID).Msg("recording blocked session")
			}
		}
	}
	return result, nil
}

// applyPlan fills graph-derived fields from the plan: the group to join
// and whether the step may skip past failed dependencies.
func (o *Orchestrator) applyPlan(req *ExecuteRequest) error {
	plan, err := o.store.GetPlan(req.PlanID)
	if err != nil {
		return err
	}
	if req.GroupID == "" {
		req.GroupID = plan.GroupID
	}
	if plan.Graph != nil {
		if node := plan.Graph.FindNode(req.Technique, req.Step); node != nil {
			if !req.CanSkipIfFailed {
				req.CanSkipIfFailed = node.CanSkipIfFailed
			}
			if req.TotalSteps == 0 {
				req.TotalSteps = node.TotalSteps
			}
		}
	}
	return nil
}

func progressStatus(result *executor.Result) progress.Status {
	switch {
	case result.Status == executor.StatusWaiting:
		return progress.StatusWaiting
	case result.Status == executor.StatusBlocked:
		return progress.StatusFailed
	case result.Complete:
		return progress.StatusCompleted
	default:
		return progress.StatusInProgress
	}
}

func (o *Orchestrator) recordProgress(groupID, sessionID, techniqueName string, step, totalSteps int, status progress.Status) {
	o.progress.Record(progress.Update{
		GroupID:     groupID,
		SessionID:   sessionID,
		Technique:   techniqueName,
		CurrentStep: step,
		TotalSteps:  totalSteps,
		Status:      status,
		Timestamp:   time.Now(),
	})
}

// BatchItem is one outcome of a batch execution. Exactly one of Result
// and Err is set.
type BatchItem struct {
	Result *executor.Result
	Err    error
}

// ExecuteBatch atomically validates a batch of concurrent calls, then runs
// them with bounded parallelism. Per-call failures are reported in the
// corresponding BatchItem; a validation failure rejects the whole batch.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, reqs []ExecuteRequest) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("executing batch: no calls given")
	}

	calls := make([]guard.Call, len(reqs))
	for i, req := range reqs {
		calls[i] = guard.Call{Kind: guard.OpExecute, PlanID: req.PlanID}
	}
	if err := o.guard.CheckBatch(calls); err != nil {
		return nil, err
	}

	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, req := range reqs {
		g.Go(func() error {
			result, err := o.ExecuteStep(gctx, req)
			items[i] = BatchItem{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}

// GroupProgress returns aggregate progress for a parallel group.
func (o *Orchestrator) GroupProgress(groupID string) (progress.GroupProgress, error) {
	return o.progress.GroupProgress(groupID)
}

// CheckForDeadlock reports whether a group appears deadlocked.
func (o *Orchestrator) CheckForDeadlock(groupID string) bool {
	return o.progress.CheckForDeadlock(groupID)
}
