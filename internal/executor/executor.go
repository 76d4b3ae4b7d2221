// Package executor runs technique steps against sessions: it serializes
// per-session work through the store's locks, validates and records each
// step, and feeds the ergodicity tracker. The parallel wrapper adds group
// coordination on top.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellis-dev/trellis/internal/ergodicity"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
	"github.com/trellis-dev/trellis/internal/synchronizer"
	"github.com/trellis-dev/trellis/internal/technique"
)

// Status reports the outcome of one Execute call.
type Status string

const (
	// StatusExecuted means the step ran and was recorded.
	StatusExecuted Status = "executed"
	// StatusWaiting means unmet hard dependencies blocked the step. No
	// state was mutated.
	StatusWaiting Status = "waiting"
	// StatusBlocked means a hard dependency failed and the step cannot be
	// skipped past it.
	StatusBlocked Status = "blocked"
)

// Request is one step execution request. SessionID may be empty: the
// executor creates the session on first use so callers can execute without
// a prior planning call.
type Request struct {
	SessionID  string
	Technique  string
	Problem    string
	Step       int
	TotalSteps int
	Output     string
	// NextStepNeeded false marks the session's final step.
	NextStepNeeded bool
	Data           map[string]any

	// Group wiring. Used only on session creation and by the parallel path.
	GroupID   string
	DependsOn []string

	// Themes and Metrics are merged into the group's shared context.
	Themes  map[string]float64
	Metrics map[string]any

	// Checkpoint marks this session as having reached its checkpoint node.
	Checkpoint bool

	// CanSkipIfFailed lets this step proceed past failed dependencies.
	CanSkipIfFailed bool

	// Impact overrides the lexical impact heuristic when set.
	Impact *ergodicity.Impact
}

// Result is the outcome of one step execution.
type Result struct {
	SessionID  string                `json:"sessionId"`
	Status     Status                `json:"status"`
	WaitingFor []string              `json:"waitingFor,omitempty"`
	Step       int                   `json:"step"`
	TotalSteps int                   `json:"totalSteps"`
	Guidance   string                `json:"guidance,omitempty"`
	Insights   []string              `json:"insights,omitempty"`
	Shared     *store.SharedContext  `json:"sharedContext,omitempty"`
	Assessment ergodicity.Assessment `json:"ergodicity"`
	Complete   bool                  `json:"sessionComplete"`
}

// Executor runs single-session steps.
type Executor struct {
	store    *store.Store
	registry *technique.Registry
	tracker  *ergodicity.Tracker
	logger   zerolog.Logger
	events   *log.Logger
}

// New returns an Executor. events may be nil.
func New(s *store.Store, reg *technique.Registry, logger zerolog.Logger, events *log.Logger) *Executor {
	return &Executor{
		store:    s,
		registry: reg,
		tracker:  ergodicity.NewTracker(),
		logger:   logger,
		events:   events,
	}
}

// Tracker exposes the ergodicity tracker for option-strategy registration.
func (e *Executor) Tracker() *ergodicity.Tracker {
	return e.tracker
}

// Execute validates and records one step under the session's lock. The
// session is created when req.SessionID is empty.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if _, ok := technique.Lookup(req.Technique); !ok {
		return nil, fmt.Errorf("executing step: unknown technique %q", req.Technique)
	}
	handler, err := e.registry.Handler(req.Technique)
	if err != nil {
		return nil, fmt.Errorf("executing step: %w", err)
	}
	if !handler.ValidateStep(req.Step, req.Data) {
		return nil, fmt.Errorf("executing step: step %d is not valid for %s", req.Step, req.Technique)
	}

	sessionID, created, err := e.ensureSession(req)
	if err != nil {
		return nil, err
	}

	release, err := e.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}
	defer release()

	return e.executeLocked(sessionID, created, handler, req)
}

// executeLocked performs the step body. The caller holds the session lock.
func (e *Executor) executeLocked(sessionID string, created bool, handler technique.Handler, req Request) (*Result, error) {
	totalSteps := req.TotalSteps
	if info, ok := technique.Lookup(req.Technique); ok && totalSteps == 0 {
		totalSteps = info.Steps
	}

	if err := e.store.AppendStep(sessionID, store.StepRecord{
		Step:           req.Step,
		TotalSteps:     totalSteps,
		Technique:      req.Technique,
		Output:         req.Output,
		NextStepNeeded: req.NextStepNeeded,
		Data:           req.Data,
		Timestamp:      time.Now(),
	}); err != nil {
		return nil, err
	}

	insights := handler.ExtractInsights([]string{req.Output})

	var assessment ergodicity.Assessment
	if err := e.store.UpdateSession(sessionID, func(sess *store.Session) error {
		for _, insight := range insights {
			sess.Insights = append(sess.Insights, insight)
			sess.Metrics.InsightCount++
		}
		assessment = e.tracker.AssessStep(
			sess.PathMemory, req.Technique, req.Problem, req.Step, req.Output, req.Impact)
		return nil
	}); err != nil {
		return nil, err
	}

	complete := !req.NextStepNeeded || req.Step >= totalSteps
	result := &Result{
		SessionID:  sessionID,
		Status:     StatusExecuted,
		Step:       req.Step,
		TotalSteps: totalSteps,
		Insights:   insights,
		Assessment: assessment,
		Complete:   complete,
	}
	if !complete {
		result.Guidance = handler.StepGuidance(req.Step+1, req.Problem)
	}

	e.logger.Debug().
		Str("session", sessionID).
		Str("technique", req.Technique).
		Int("step", req.Step).
		Bool("created", created).
		Float64("flexibility", assessment.FlexibilityScore).
		Msg("step executed")
	if e.events != nil {
		_ = e.events.Append(log.LogEvent{
			Event:     log.EventStepExecuted,
			SessionID: sessionID,
			Technique: req.Technique,
			Step:      req.Step,
		})
		if assessment.OptionsTriggered {
			_ = e.events.Append(log.LogEvent{
				Event:     log.EventOptionsGenerated,
				SessionID: sessionID,
				Technique: req.Technique,
				Step:      req.Step,
			})
		}
		if assessment.Impact.ReversibilityCost >= ergodicity.BarrierThreshold {
			_ = e.events.Append(log.LogEvent{
				Event:     log.EventBarrierDetected,
				SessionID: sessionID,
				Technique: req.Technique,
				Step:      req.Step,
			})
		}
	}
	return result, nil
}

// ensureSession resolves or lazily creates the session for a request.
func (e *Executor) ensureSession(req Request) (string, bool, error) {
	if req.SessionID != "" {
		if _, err := e.store.GetSession(req.SessionID); err != nil {
			return "", false, err
		}
		return req.SessionID, false, nil
	}
	sess, err := e.store.CreateSession(req.Technique, req.Problem, store.SessionOptions{
		GroupID:   req.GroupID,
		DependsOn: req.DependsOn,
	})
	if err != nil {
		return "", false, err
	}
	if e.events != nil {
		_ = e.events.Append(log.LogEvent{
			Event:     log.EventSessionCreated,
			SessionID: sess.ID,
			Technique: req.Technique,
		})
	}
	return sess.ID, true, nil
}

// Parallel layers group coordination over the base executor: dependency
// gating, shared-context reads and writes, and member completion marking.
type Parallel struct {
	base *Executor
	sync *synchronizer.Synchronizer
}

// NewParallel wraps a base executor with group coordination.
func NewParallel(base *Executor, sync *synchronizer.Synchronizer) *Parallel {
	return &Parallel{base: base, sync: sync}
}

// Base returns the wrapped single-session executor.
func (p *Parallel) Base() *Executor {
	return p.base
}
