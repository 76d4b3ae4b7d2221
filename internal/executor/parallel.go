package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
	"github.com/trellis-dev/trellis/internal/synchronizer"
)

// Execute runs one step with group coordination. With no group the step
// runs immediately through the base executor. With a group, unmet hard
// dependencies return StatusWaiting without mutating anything; a failed
// dependency blocks unless the step can skip past it.
func (p *Parallel) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.GroupID == "" {
		return p.base.Execute(ctx, req)
	}

	group, err := p.base.store.GetGroup(req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("executing grouped step: %w", err)
	}

	dependsOn, err := p.resolveDependsOn(req)
	if err != nil {
		return nil, err
	}

	waiting, blocked := p.gate(group, dependsOn, req.CanSkipIfFailed)
	if len(blocked) > 0 {
		p.logEvent(log.LogEvent{
			Event:     log.EventStepFailed,
			SessionID: req.SessionID,
			GroupID:   req.GroupID,
			Technique: req.Technique,
			Step:      req.Step,
			Reason:    fmt.Sprintf("hard dependency %s failed", blocked[0]),
		})
		return &Result{
			SessionID:  req.SessionID,
			Status:     StatusBlocked,
			WaitingFor: blocked,
			Step:       req.Step,
			TotalSteps: req.TotalSteps,
		}, nil
	}
	if len(waiting) > 0 {
		p.logEvent(log.LogEvent{
			Event:     log.EventStepWaiting,
			SessionID: req.SessionID,
			GroupID:   req.GroupID,
			Technique: req.Technique,
			Step:      req.Step,
		})
		return &Result{
			SessionID:  req.SessionID,
			Status:     StatusWaiting,
			WaitingFor: waiting,
			Step:       req.Step,
			TotalSteps: req.TotalSteps,
		}, nil
	}

	result, err := p.base.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	// The group snapshot was taken before the step ran, so its shared
	// context is the stable pre-step view.
	result.Shared = group.Shared

	if err := p.sync.Submit(req.GroupID, synchronizer.Update{
		SessionID: result.SessionID,
		Insights:  result.Insights,
		Themes:    req.Themes,
		Metrics:   req.Metrics,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("merging shared context: %w", err)
	}
	if req.Checkpoint {
		if err := p.sync.MarkCheckpoint(req.GroupID, result.SessionID); err != nil {
			return nil, fmt.Errorf("marking checkpoint: %w", err)
		}
	}

	if result.Complete {
		if err := p.base.store.MarkSessionComplete(req.GroupID, result.SessionID); err != nil {
			return nil, fmt.Errorf("completing session %s: %w", result.SessionID, err)
		}
		p.logEvent(log.LogEvent{
			Event:     log.EventSessionComplete,
			SessionID: result.SessionID,
			GroupID:   req.GroupID,
			Technique: req.Technique,
		})
	}
	return result, nil
}

// MarkFailed records a member session failure in its group.
func (p *Parallel) MarkFailed(groupID, sessionID, reason string) error {
	if err := p.base.store.MarkSessionFailed(groupID, sessionID); err != nil {
		return err
	}
	p.logEvent(log.LogEvent{
		Event:     log.EventStepFailed,
		SessionID: sessionID,
		GroupID:   groupID,
		Reason:    reason,
	})
	return nil
}

// gate partitions hard dependencies into still-running (waiting) and
// failed-and-unskippable (blocked) sets.
func (p *Parallel) gate(group *store.ParallelGroup, dependsOn []string, canSkip bool) (waiting, blocked []string) {
	for _, dep := range dependsOn {
		switch {
		case group.Completed[dep]:
		case group.Failed[dep]:
			if !canSkip {
				blocked = append(blocked, dep)
			}
		default:
			waiting = append(waiting, dep)
		}
	}
	return waiting, blocked
}

// resolveDependsOn prefers the request's dependency list and falls back to
// the wiring recorded on the session.
func (p *Parallel) resolveDependsOn(req Request) ([]string, error) {
	if len(req.DependsOn) > 0 || req.SessionID == "" {
		return req.DependsOn, nil
	}
	sess, err := p.base.store.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	return sess.DependsOn, nil
}

func (p *Parallel) logEvent(ev log.LogEvent) {
	if p.base.events != nil {
		_ = p.base.events.Append(ev)
	}
}
