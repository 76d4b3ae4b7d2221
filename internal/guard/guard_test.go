package guard

import (
	"errors"
	"testing"
)

func TestPlanRequiresDiscover(t *testing.T) {
	g := New()
	err := g.CheckPlan()
	if err == nil {
		t.Fatal("expected order error for plan before discover")
	}
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OrderError, got %T", err)
	}
	if oe.Missing != OpDiscover {
		t.Errorf("expected missing %q, got %q", OpDiscover, oe.Missing)
	}
}

func TestExecuteRequiresPlan(t *testing.T) {
	g := New()
	g.RecordDiscover()
	if err := g.CheckExecute("plan-1"); err == nil {
		t.Fatal("expected order error for execute before plan")
	}

	g.RecordPlan("plan-1")
	if err := g.CheckExecute("plan-1"); err != nil {
		t.Fatalf("execute after plan should pass: %v", err)
	}
	if err := g.CheckExecute("plan-2"); err == nil {
		t.Error("expected order error for unknown plan id")
	}
}

func TestFullWorkflowOrder(t *testing.T) {
	g := New()
	if g.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %v", g.State())
	}
	g.RecordDiscover()
	if g.State() != StateDiscovered {
		t.Fatalf("expected discovered, got %v", g.State())
	}
	if err := g.CheckPlan(); err != nil {
		t.Fatalf("plan after discover should pass: %v", err)
	}
	g.RecordPlan("p1")
	if err := g.CheckExecute("p1"); err != nil {
		t.Fatalf("execute after plan should pass: %v", err)
	}
	g.RecordExecute()
	if g.State() != StateExecuting {
		t.Fatalf("expected executing, got %v", g.State())
	}
}

func TestBatchRejectsNonExecute(t *testing.T) {
	g := New()
	g.RecordDiscover()
	g.RecordPlan("p1")

	err := g.CheckBatch([]Call{
		{Kind: OpExecute, PlanID: "p1"},
		{Kind: OpPlan},
	})
	if err == nil {
		t.Fatal("expected batch with a plan call to be rejected")
	}
}

func TestBatchAtomicValidation(t *testing.T) {
	g := New()
	g.RecordDiscover()
	g.RecordPlan("p1")

	// One bad plan ID rejects the whole batch and names the call.
	err := g.CheckBatch([]Call{
		{Kind: OpExecute, PlanID: "p1"},
		{Kind: OpExecute, PlanID: "nope"},
		{Kind: OpExecute, PlanID: "p1"},
	})
	if err == nil {
		t.Fatal("expected batch rejection for unknown plan id")
	}
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OrderError, got %T", err)
	}
	if oe.Index != 1 {
		t.Errorf("expected violating call index 1, got %d", oe.Index)
	}

	// All-valid batch passes.
	err = g.CheckBatch([]Call{
		{Kind: OpExecute, PlanID: "p1"},
		{Kind: OpExecute, PlanID: "p1"},
	})
	if err != nil {
		t.Fatalf("valid batch should pass: %v", err)
	}
}

func TestBatchSingleCallSameRules(t *testing.T) {
	g := New()
	g.RecordDiscover()
	g.RecordPlan("p1")

	// Batch rules do not relax for one-element batches.
	if err := g.CheckBatch([]Call{{Kind: OpDiscover}}); err == nil {
		t.Error("single discover batch should be rejected")
	}
	if err := g.CheckBatch([]Call{{Kind: OpPlan}}); err == nil {
		t.Error("single plan batch should be rejected")
	}
	if err := g.CheckBatch([]Call{{Kind: OpExecute, PlanID: "p1"}}); err != nil {
		t.Errorf("single planned execute should pass: %v", err)
	}

	err := g.CheckBatch([]Call{{Kind: OpExecute}})
	if err == nil {
		t.Fatal("single plan-less execute batch should be rejected")
	}
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OrderError, got %T", err)
	}
	if oe.Index != 0 {
		t.Errorf("expected violating call index 0, got %d", oe.Index)
	}
}

func TestIsOrderError(t *testing.T) {
	if !IsOrderError(&OrderError{Operation: OpPlan, Missing: OpDiscover, Index: -1}) {
		t.Error("IsOrderError should recognize OrderError")
	}
	if IsOrderError(errors.New("other")) {
		t.Error("IsOrderError should reject other errors")
	}
}

func TestReset(t *testing.T) {
	g := New()
	g.RecordDiscover()
	g.RecordPlan("p1")
	g.Reset()
	if g.State() != StateUninitialized {
		t.Errorf("expected uninitialized after reset, got %v", g.State())
	}
	if err := g.CheckExecute("p1"); err == nil {
		t.Error("plan ids should not survive reset")
	}
}
