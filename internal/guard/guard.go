// Package guard enforces the discover -> plan -> execute call order for a
// logical conversation, including atomic validation of concurrent batches.
package guard

import (
	"fmt"
	"sync"
)

// State is the guard's position in the workflow.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateDiscovered    State = "discovered"
	StatePlanned       State = "planned"
	StateExecuting     State = "executing"
)

// Operation kinds accepted by the guard.
const (
	OpDiscover = "discover"
	OpPlan     = "plan"
	OpExecute  = "execute"
)

// OrderError reports an operation called out of sequence. It names the
// missing prior step so the caller can self-correct.
type OrderError struct {
	Operation string // the operation that was attempted
	Missing   string // the prerequisite that has not been called
	Index     int    // batch index of the violating call, -1 for single calls
}

func (e *OrderError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("workflow order violation in batch call %d: %q requires a prior %q call", e.Index, e.Operation, e.Missing)
	}
	return fmt.Sprintf("workflow order violation: %q requires a prior %q call", e.Operation, e.Missing)
}

// IsOrderError reports whether err is a workflow-order violation.
func IsOrderError(err error) bool {
	_, ok := err.(*OrderError)
	return ok
}

// Call describes one operation in a concurrently-submitted batch.
type Call struct {
	Kind   string // OpDiscover, OpPlan, or OpExecute
	PlanID string // required for OpExecute
}

// Guard is the per-conversation workflow state machine. It is explicit
// state passed into boundary calls, never ambient; Reset exists for test
// isolation. Safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	state   State
	planIDs map[string]bool
}

// New returns a Guard in the uninitialized state.
func New() *Guard {
	return &Guard{state: StateUninitialized, planIDs: make(map[string]bool)}
}

// State returns the current workflow state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RecordDiscover notes a discovery call. Discovery is always permitted.
func (g *Guard) RecordDiscover() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateUninitialized {
		g.state = StateDiscovered
	}
}

// CheckPlan validates that planning may proceed.
func (g *Guard) CheckPlan() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateUninitialized {
		return &OrderError{Operation: OpPlan, Missing: OpDiscover, Index: -1}
	}
	return nil
}

// RecordPlan notes a successful planning call for the given plan ID.
func (g *Guard) RecordPlan(planID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planIDs[planID] = true
	if g.state == StateDiscovered || g.state == StateUninitialized {
		g.state = StatePlanned
	}
}

// CheckExecute validates that a step execution against planID may proceed.
func (g *Guard) CheckExecute(planID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkExecuteLocked(planID, -1)
}

func (g *Guard) checkExecuteLocked(planID string, index int) error {
	if g.state == StateUninitialized || g.state == StateDiscovered {
		return &OrderError{Operation: OpExecute, Missing: OpPlan, Index: index}
	}
	if !g.planIDs[planID] {
		return &OrderError{Operation: OpExecute, Missing: OpPlan, Index: index}
	}
	return nil
}

// RecordExecute notes that execution has begun.
func (g *Guard) RecordExecute() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateExecuting
}

// CheckBatch atomically validates a batch of concurrently-submitted calls.
// A batch is valid only if every call is an execute against an
// already-planned ID; the rule applies regardless of batch size, so a
// one-element discover or plan batch is rejected like any other. The
// returned error identifies the first violating call.
func (g *Guard) CheckBatch(calls []Call) error {
	if len(calls) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i, c := range calls {
		if c.Kind != OpExecute {
			return fmt.Errorf("invalid batch: call %d is %q; batches may only contain execute calls against an existing plan", i, c.Kind)
		}
	}
	for i, c := range calls {
		if err := g.checkExecuteLocked(c.PlanID, i); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns the guard to the uninitialized state. Intended for tests.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateUninitialized
	g.planIDs = make(map[string]bool)
}
