// Package store owns session, plan, and parallel-group records: creation,
// lookup, per-session locking, TTL eviction, size accounting, and the
// asynchronous persistence hand-off.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/trellis-dev/trellis/internal/ergodicity"
	"github.com/trellis-dev/trellis/internal/graph"
)

// StepRecord is one entry in a session's ordered history.
type StepRecord struct {
	Step           int            `json:"step"`
	TotalSteps     int            `json:"totalSteps"`
	Technique      string         `json:"technique"`
	Output         string         `json:"output"`
	NextStepNeeded bool           `json:"nextStepNeeded"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// SessionMetrics aggregates per-session counters.
type SessionMetrics struct {
	StepsCompleted int `json:"stepsCompleted"`
	InsightCount   int `json:"insightCount"`
	BranchCount    int `json:"branchCount"`
}

// Session is one technique run. It is owned exclusively by the Store and
// mutated only through its API.
type Session struct {
	ID              string                  `json:"id"`
	Technique       string                  `json:"technique"`
	Problem         string                  `json:"problem"`
	History         []StepRecord            `json:"history"`
	Branches        map[string][]StepRecord `json:"branches,omitempty"`
	Insights        []string                `json:"insights,omitempty"`
	PathMemory      *ergodicity.PathMemory  `json:"pathMemory"`
	ParallelGroupID string                  `json:"parallelGroupId,omitempty"`
	DependsOn       []string                `json:"dependsOn,omitempty"`
	Metrics         SessionMetrics          `json:"metrics"`
	StartedAt       time.Time               `json:"startedAt"`
	EndedAt         time.Time               `json:"endedAt,omitempty"`
	LastActivity    time.Time               `json:"lastActivity"`
}

// clone returns a copy detached from the store. Lookup accessors hand out
// clones so callers never read store-owned containers while the store
// mutates them under its lock.
func (sess *Session) clone() *Session {
	c := *sess
	c.History = append([]StepRecord(nil), sess.History...)
	c.Insights = append([]string(nil), sess.Insights...)
	c.DependsOn = append([]string(nil), sess.DependsOn...)
	c.PathMemory = sess.PathMemory.Clone()
	if sess.Branches != nil {
		c.Branches = make(map[string][]StepRecord, len(sess.Branches))
		for k, v := range sess.Branches {
			c.Branches[k] = append([]StepRecord(nil), v...)
		}
	}
	return &c
}

// Plan is a planning result: the per-technique workflow plus the attached
// execution graph. Immutable after creation except for graph and group
// attachment.
type Plan struct {
	ID        string                    `json:"planId"`
	Problem   string                    `json:"problem"`
	Workflow  []graph.TechniqueWorkflow `json:"workflow"`
	Mode      graph.Mode                `json:"mode"`
	Graph     *graph.ExecutionGraph     `json:"executionGraph,omitempty"`
	GroupID   string                    `json:"groupId,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
}

// clone copies the plan. The attached graph is shared; it is immutable
// once built.
func (p *Plan) clone() *Plan {
	c := *p
	c.Workflow = append([]graph.TechniqueWorkflow(nil), p.Workflow...)
	return &c
}

// Group status values.
const (
	GroupActive         = "active"
	GroupCompleted      = "completed"
	GroupPartialSuccess = "partial_success"
	GroupFailed         = "failed"
)

// UpdateStrategy selects when shared-context merges become visible.
type UpdateStrategy string

const (
	UpdateImmediate  UpdateStrategy = "immediate"
	UpdateBatched    UpdateStrategy = "batched"
	UpdateCheckpoint UpdateStrategy = "checkpoint"
)

// MetricValue is one last-writer-wins shared-context metric.
type MetricValue struct {
	SessionID string    `json:"sessionId"`
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SharedContext accumulates cross-session insights and themes for a group.
// Only the Synchronizer writes it.
type SharedContext struct {
	Insights []string               `json:"insights,omitempty"`
	Themes   map[string]float64     `json:"themes,omitempty"`
	Metrics  map[string]MetricValue `json:"metrics,omitempty"`
	Strategy UpdateStrategy         `json:"strategy"`
}

// ParallelGroup is a set of sessions executing concurrently toward a
// shared synthesis.
type ParallelGroup struct {
	ID          string          `json:"groupId"`
	SessionIDs  []string        `json:"sessionIds"`
	Completed   map[string]bool `json:"completedSessions"`
	Failed      map[string]bool `json:"failedSessions"`
	Status      string          `json:"status"`
	Shared      *SharedContext  `json:"sharedContext"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
}

func (sc *SharedContext) clone() *SharedContext {
	if sc == nil {
		return nil
	}
	c := &SharedContext{
		Insights: append([]string(nil), sc.Insights...),
		Themes:   make(map[string]float64, len(sc.Themes)),
		Metrics:  make(map[string]MetricValue, len(sc.Metrics)),
		Strategy: sc.Strategy,
	}
	for k, v := range sc.Themes {
		c.Themes[k] = v
	}
	for k, v := range sc.Metrics {
		c.Metrics[k] = v
	}
	return c
}

func (g *ParallelGroup) clone() *ParallelGroup {
	c := *g
	c.SessionIDs = append([]string(nil), g.SessionIDs...)
	c.Completed = make(map[string]bool, len(g.Completed))
	for id := range g.Completed {
		c.Completed[id] = true
	}
	c.Failed = make(map[string]bool, len(g.Failed))
	for id := range g.Failed {
		c.Failed[id] = true
	}
	c.Shared = g.Shared.clone()
	return &c
}

// Done reports whether every member session has completed or failed.
func (g *ParallelGroup) Done() bool {
	if len(g.SessionIDs) == 0 {
		return false
	}
	for _, id := range g.SessionIDs {
		if !g.Completed[id] && !g.Failed[id] {
			return false
		}
	}
	return true
}

// MemoryStats is the observability view of store usage.
type MemoryStats struct {
	Sessions     int            `json:"sessions"`
	Plans        int            `json:"plans"`
	Groups       int            `json:"groups"`
	SessionBytes map[string]int `json:"sessionBytes"`
	TotalBytes   int            `json:"totalBytes"`
	HeapBytes    uint64         `json:"heapBytes"`
}

// --- Errors ---

// ErrDestroyed is returned by operations on a destroyed store.
var ErrDestroyed = errors.New("session store destroyed")

// ErrSessionLimit is returned when maxSessions would be exceeded.
var ErrSessionLimit = errors.New("session limit reached")

// ErrSessionTooLarge is returned when a step would push the serialized
// session history past maxSessionBytes.
var ErrSessionTooLarge = errors.New("session history exceeds size limit")

// NotFoundError reports a missing session, plan, or group. Recoverable by
// re-planning.
type NotFoundError struct {
	Kind string // "session", "plan", or "group"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError of any kind.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
