// Package orchestrator wires the store, executors, synchronizer, progress
// coordinator, and workflow guard into the single entry point the server
// and CLI talk to.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/convergence"
	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/graph"
	"github.com/trellis-dev/trellis/internal/guard"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/progress"
	"github.com/trellis-dev/trellis/internal/store"
	"github.com/trellis-dev/trellis/internal/synchronizer"
	"github.com/trellis-dev/trellis/internal/technique"
)

// Orchestrator owns every stateful component and exposes the workflow
// operations: discover, plan, execute, converge, progress, destroy.
type Orchestrator struct {
	cfg      *config.Config
	logger   zerolog.Logger
	events   *log.Logger
	guard    *guard.Guard
	store    *store.Store
	adapter  store.Adapter
	sync     *synchronizer.Synchronizer
	exec     *executor.Parallel
	conv     *convergence.Executor
	progress *progress.Coordinator
	registry *technique.Registry

	maxParallel int
	destroyOnce sync.Once
}

// New builds an Orchestrator from configuration. events may be nil.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, events *log.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	adapter, err := store.OpenAdapter(ctx, cfg.Persistence.Backend, cfg.Persistence.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening persistence backend: %w", err)
	}

	st := store.New(store.Config{
		MaxSessions:     cfg.Sessions.MaxSessions,
		MaxSessionBytes: cfg.Sessions.MaxSessionBytes,
		SessionTTL:      cfg.Sessions.TTL,
		CleanupInterval: cfg.Sessions.CleanupInterval,
		SessionTimeout:  cfg.Sessions.Timeout,
		GroupRetention:  cfg.Execution.GroupRetention,
		UpdateStrategy:  store.UpdateStrategy(cfg.Execution.UpdateStrategy),
	}, adapter, logger, events)

	sync := synchronizer.New(st)
	registry := technique.NewRegistry()
	base := executor.New(st, registry, logger, events)

	prog := progress.New(st, logger, events, progress.Options{
		Retention:   cfg.Execution.GroupRetention,
		GracePeriod: cfg.Execution.DeadlockGracePeriod,
	})

	o := &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		events:      events,
		guard:       guard.New(),
		store:       st,
		adapter:     adapter,
		sync:        sync,
		exec:        executor.NewParallel(base, sync),
		conv:        convergence.NewExecutor(),
		progress:    prog,
		registry:    registry,
		maxParallel: cfg.Execution.MaxParallel,
	}
	if o.maxParallel <= 0 {
		o.maxParallel = 1
	}

	// A session that stalls past its timeout counts as failed so the rest
	// of the group can finish.
	st.OnSessionTimeout(func(sessionID, groupID string) {
		if sess, err := st.GetSession(sessionID); err == nil {
			prog.Record(progress.Update{
				GroupID:    groupID,
				SessionID:  sessionID,
				Technique:  sess.Technique,
				TotalSteps: totalStepsFor(sess.Technique),
				Status:     progress.StatusFailed,
			})
		}
	})
	return o, nil
}

// Guard exposes the workflow guard for boundary validation.
func (o *Orchestrator) Guard() *guard.Guard { return o.guard }

// Store exposes the session store for observability surfaces.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Progress exposes the progress coordinator for streaming consumers.
func (o *Orchestrator) Progress() *progress.Coordinator { return o.progress }

// Registry exposes the technique registry for handler overrides.
func (o *Orchestrator) Registry() *technique.Registry { return o.registry }

// Stats returns the store's memory view.
func (o *Orchestrator) Stats() store.MemoryStats { return o.store.Stats() }

// Destroy tears down every component. Idempotent: repeated calls return
// nil without side effects.
func (o *Orchestrator) Destroy() error {
	var err error
	o.destroyOnce.Do(func() {
		o.progress.Stop()
		err = o.store.Destroy()
		if o.adapter != nil {
			if cerr := o.adapter.Close(); cerr != nil {
				o.logger.Warn().Err(cerr).Msg("closing persistence backend")
			}
		}
		if o.events != nil {
			_ = o.events.Append(log.LogEvent{Event: log.EventDestroyed})
		}
		o.logger.Info().Msg("orchestrator destroyed")
	})
	return err
}

// Reset returns the workflow guard to its initial state. Intended for
// tests that reuse one orchestrator across logical conversations.
func (o *Orchestrator) Reset() {
	o.guard.Reset()
}

func totalStepsFor(techniqueName string) int {
	if info, ok := technique.Lookup(techniqueName); ok {
		return info.Steps
	}
	return 0
}

// planWorkflows expands technique names into full workflows using the
// catalogue's step counts.
func planWorkflows(techniques []string) ([]graph.TechniqueWorkflow, error) {
	workflows := make([]graph.TechniqueWorkflow, 0, len(techniques))
	for _, name := range techniques {
		info, ok := technique.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("planning workflow: unknown technique %q", name)
		}
		steps := make([]graph.StepSpec, info.Steps)
		for i := range steps {
			steps[i] = graph.StepSpec{Step: i + 1}
		}
		workflows = append(workflows, graph.TechniqueWorkflow{Technique: name, Steps: steps})
	}
	return workflows, nil
}

// Plan validates ordering, generates the execution graph, and records the
// plan. Parallel-mode plans also get a parallel group whose ID execute
// calls may pass to join the group.
func (o *Orchestrator) Plan(problem string, techniques []string, mode graph.Mode) (*store.Plan, error) {
	if err := o.guard.CheckPlan(); err != nil {
		return nil, err
	}
	if len(techniques) == 0 {
		return nil, fmt.Errorf("planning workflow: at least one technique is required")
	}
	if mode == "" {
		mode = graph.ModeParallel
	}

	workflows, err := planWorkflows(techniques)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(workflows, mode)
	if err != nil {
		return nil, fmt.Errorf("generating execution graph: %w", err)
	}

	plan, err := o.store.CreatePlan(problem, workflows, mode)
	if err != nil {
		return nil, err
	}
	if err := o.store.AttachGraph(plan.ID, g); err != nil {
		return nil, err
	}

	if mode == graph.ModeParallel && len(techniques) > 1 {
		group, err := o.store.CreateGroup()
		if err != nil {
			return nil, err
		}
		if err := o.store.SetPlanGroup(plan.ID, group.ID); err != nil {
			return nil, err
		}
		if o.events != nil {
			_ = o.events.Append(log.LogEvent{Event: log.EventGroupCreated, PlanID: plan.ID, GroupID: group.ID})
		}
	}

	o.guard.RecordPlan(plan.ID)
	o.logger.Info().
		Str("plan", plan.ID).
		Strs("techniques", techniques).
		Str("mode", string(mode)).
		Int("nodes", len(g.Nodes)).
		Int("max_parallelism", g.MaxParallelism).
		Msg("plan created")
	if o.events != nil {
		_ = o.events.Append(log.LogEvent{
			Event:  log.EventPlanCreated,
			PlanID: plan.ID,
			Total:  len(g.Nodes),
		})
	}
	return o.store.GetPlan(plan.ID)
}
