package executor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
	"github.com/trellis-dev/trellis/internal/synchronizer"
	"github.com/trellis-dev/trellis/internal/technique"
	"github.com/trellis-dev/trellis/internal/testutil"
)

func newParallel(t *testing.T) (*executor.Parallel, *store.Store) {
	t.Helper()
	s := testutil.NewStore(t)
	base := executor.New(s, technique.NewRegistry(), log.Nop(), nil)
	return executor.NewParallel(base, synchronizer.New(s)), s
}

func TestExecuteCreatesSessionLazily(t *testing.T) {
	p, s := newParallel(t)

	res, err := p.Execute(context.Background(), executor.Request{
		Technique:      "six_hats",
		Problem:        "improve retention",
		Step:           1,
		Output:         "Blue hat: define the process",
		NextStepNeeded: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusExecuted {
		t.Fatalf("status = %q", res.Status)
	}
	if res.TotalSteps != 6 {
		t.Errorf("TotalSteps = %d, want 6 from the catalogue", res.TotalSteps)
	}
	if res.Complete {
		t.Error("step 1 of 6 marked complete")
	}
	if res.Guidance == "" {
		t.Error("expected guidance for step 2")
	}

	sess, err := s.GetSession(res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.History) != 1 || sess.History[0].Step != 1 {
		t.Errorf("history = %+v", sess.History)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	p, _ := newParallel(t)
	ctx := context.Background()

	if _, err := p.Execute(ctx, executor.Request{Technique: "mind_reading", Step: 1}); err == nil {
		t.Error("unknown technique accepted")
	}
	if _, err := p.Execute(ctx, executor.Request{Technique: "six_hats", Step: 0}); err == nil {
		t.Error("step 0 accepted")
	}
	if _, err := p.Execute(ctx, executor.Request{Technique: "six_hats", Step: 7}); err == nil {
		t.Error("step beyond technique length accepted")
	}
	if _, err := p.Execute(ctx, executor.Request{
		Technique: "six_hats", Step: 1, SessionID: "missing",
	}); err == nil {
		t.Error("unknown session accepted")
	}
}

func TestExecuteCompletion(t *testing.T) {
	p, _ := newParallel(t)

	res, err := p.Execute(context.Background(), executor.Request{
		Technique:      "disney_method",
		Problem:        "plan the launch",
		Step:           3,
		Output:         "Critic pass done",
		NextStepNeeded: false,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Complete {
		t.Error("final step not marked complete")
	}
	if res.Guidance != "" {
		t.Errorf("completed session got guidance %q", res.Guidance)
	}
}

func TestExecuteExtractsInsights(t *testing.T) {
	p, s := newParallel(t)

	res, err := p.Execute(context.Background(), executor.Request{
		Technique:      "triz",
		Problem:        "cut costs",
		Step:           1,
		Output:         "Costs drop because fewer nodes are needed.",
		NextStepNeeded: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Insights) != 1 {
		t.Fatalf("insights = %v", res.Insights)
	}

	sess, err := s.GetSession(res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Metrics.InsightCount != 1 {
		t.Errorf("InsightCount = %d, want 1", sess.Metrics.InsightCount)
	}
	if len(sess.Insights) != 1 {
		t.Errorf("session insights = %v", sess.Insights)
	}
}

// groupPair creates a dependency session and a dependent session wired into
// one group, returning (group, dep, main).
func groupPair(t *testing.T, s *store.Store) (*store.ParallelGroup, *store.Session, *store.Session) {
	t.Helper()
	g, err := s.CreateGroup()
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	dep, err := s.CreateSession("six_hats", "p", store.SessionOptions{GroupID: g.ID})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	main, err := s.CreateSession("scamper", "p", store.SessionOptions{
		GroupID: g.ID, DependsOn: []string{dep.ID},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return g, dep, main
}

func TestGroupedExecuteWaitsOnRunningDependency(t *testing.T) {
	p, s := newParallel(t)
	g, dep, main := groupPair(t, s)

	res, err := p.Execute(context.Background(), executor.Request{
		SessionID:      main.ID,
		Technique:      "scamper",
		Step:           1,
		GroupID:        g.ID,
		NextStepNeeded: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusWaiting {
		t.Fatalf("status = %q, want waiting", res.Status)
	}
	if len(res.WaitingFor) != 1 || res.WaitingFor[0] != dep.ID {
		t.Errorf("WaitingFor = %v", res.WaitingFor)
	}

	// Waiting must not mutate the session.
	sess, err := s.GetSession(main.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.History) != 0 {
		t.Errorf("waiting step recorded history %+v", sess.History)
	}
}

func TestGroupedExecuteBlocksOnFailedDependency(t *testing.T) {
	p, s := newParallel(t)
	g, dep, main := groupPair(t, s)
	if err := s.MarkSessionFailed(g.ID, dep.ID); err != nil {
		t.Fatalf("MarkSessionFailed: %v", err)
	}

	res, err := p.Execute(context.Background(), executor.Request{
		SessionID:      main.ID,
		Technique:      "scamper",
		Step:           1,
		GroupID:        g.ID,
		NextStepNeeded: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusBlocked {
		t.Fatalf("status = %q, want blocked", res.Status)
	}
	if len(res.WaitingFor) != 1 || res.WaitingFor[0] != dep.ID {
		t.Errorf("WaitingFor = %v", res.WaitingFor)
	}
}

func TestGroupedExecuteSkipsPastFailedDependency(t *testing.T) {
	p, s := newParallel(t)
	g, dep, main := groupPair(t, s)
	if err := s.MarkSessionFailed(g.ID, dep.ID); err != nil {
		t.Fatalf("MarkSessionFailed: %v", err)
	}

	res, err := p.Execute(context.Background(), executor.Request{
		SessionID:       main.ID,
		Technique:       "scamper",
		Step:            1,
		GroupID:         g.ID,
		NextStepNeeded:  true,
		CanSkipIfFailed: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusExecuted {
		t.Fatalf("status = %q, want executed", res.Status)
	}
}

func TestGroupedExecuteRunsAfterDependencyCompletes(t *testing.T) {
	p, s := newParallel(t)
	g, dep, main := groupPair(t, s)
	if err := s.MarkSessionComplete(g.ID, dep.ID); err != nil {
		t.Fatalf("MarkSessionComplete: %v", err)
	}

	res, err := p.Execute(context.Background(), executor.Request{
		SessionID:      main.ID,
		Technique:      "scamper",
		Step:           1,
		GroupID:        g.ID,
		Themes:         map[string]float64{"simplify": 0.4},
		NextStepNeeded: false,
		TotalSteps:     1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != executor.StatusExecuted || !res.Complete {
		t.Fatalf("result = %+v, want executed and complete", res)
	}
	if res.Shared == nil {
		t.Fatal("no shared context snapshot")
	}
	if len(res.Shared.Themes) != 0 {
		t.Errorf("snapshot should predate this step's merge, got themes %v", res.Shared.Themes)
	}

	group, err := s.GetGroup(g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if !group.Completed[main.ID] {
		t.Error("completed member not marked in group")
	}
	if group.Shared.Themes["simplify"] != 0.4 {
		t.Errorf("shared themes = %v, immediate strategy should merge at once", group.Shared.Themes)
	}
}

// Completion marks land in the group while other members are mid-gate.
// Exercised under the race detector to keep the store's snapshot
// discipline honest.
func TestGroupedExecuteConcurrentWithCompletion(t *testing.T) {
	p, s := newParallel(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		g, dep, main := groupPair(t, s)

		errs := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := p.Execute(ctx, executor.Request{
				SessionID:      dep.ID,
				Technique:      "six_hats",
				Step:           6,
				Output:         "blue hat: wrap up",
				GroupID:        g.ID,
				NextStepNeeded: false,
				TotalSteps:     6,
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			res, err := p.Execute(ctx, executor.Request{
				SessionID:      main.ID,
				Technique:      "scamper",
				Step:           1,
				Output:         "substitute the channel",
				GroupID:        g.ID,
				NextStepNeeded: true,
			})
			if err == nil && res.Status != executor.StatusWaiting && res.Status != executor.StatusExecuted {
				err = fmt.Errorf("dependent step status = %q", res.Status)
			}
			errs <- err
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent grouped execute: %v", err)
			}
		}
	}
}

func TestGroupedExecuteUnknownGroup(t *testing.T) {
	p, _ := newParallel(t)
	_, err := p.Execute(context.Background(), executor.Request{
		Technique: "six_hats",
		Step:      1,
		GroupID:   "nope",
	})
	if err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestMarkFailed(t *testing.T) {
	p, s := newParallel(t)
	g, dep, _ := groupPair(t, s)

	if err := p.MarkFailed(g.ID, dep.ID, "handler error"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	group, err := s.GetGroup(g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if !group.Failed[dep.ID] {
		t.Error("failure not recorded in group")
	}
}
