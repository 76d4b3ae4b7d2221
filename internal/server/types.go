package server

import (
	"github.com/trellis-dev/trellis/internal/ergodicity"
	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/graph"
	"github.com/trellis-dev/trellis/internal/progress"
)

// DiscoverRequest asks for technique recommendations.
type DiscoverRequest struct {
	Problem string `json:"problem"`
}

// PlanRequest asks for an execution graph over the named techniques.
type PlanRequest struct {
	Problem    string   `json:"problem"`
	Techniques []string `json:"techniques"`
	Mode       string   `json:"mode,omitempty"` // parallel (default) or sequential
}

// PlanResponse carries the plan identity and its generated graph.
type PlanResponse struct {
	PlanID  string                `json:"planId"`
	GroupID string                `json:"groupId,omitempty"`
	Graph   *graph.ExecutionGraph `json:"executionGraph"`
}

// ExecuteRequest runs one technique step.
type ExecuteRequest struct {
	PlanID          string             `json:"planId,omitempty"`
	SessionID       string             `json:"sessionId,omitempty"`
	Technique       string             `json:"technique"`
	Problem         string             `json:"problem"`
	Step            int                `json:"step"`
	TotalSteps      int                `json:"totalSteps,omitempty"`
	Output          string             `json:"output"`
	NextStepNeeded  bool               `json:"nextStepNeeded"`
	Data            map[string]any     `json:"data,omitempty"`
	GroupID         string             `json:"groupId,omitempty"`
	DependsOn       []string           `json:"dependsOn,omitempty"`
	Themes          map[string]float64 `json:"themes,omitempty"`
	Metrics         map[string]any     `json:"metrics,omitempty"`
	Checkpoint      bool               `json:"checkpoint,omitempty"`
	CanSkipIfFailed bool               `json:"canSkipIfFailed,omitempty"`
	Impact          *ergodicity.Impact `json:"impact,omitempty"`
}

// ExecuteBatchRequest runs several steps as one atomically-validated batch.
type ExecuteBatchRequest struct {
	Calls []ExecuteRequest `json:"calls"`
}

// BatchItem is one outcome in a batch response.
type BatchItem struct {
	Result *executor.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ExecuteBatchResponse reports per-call outcomes in request order.
type ExecuteBatchResponse struct {
	Items []BatchItem `json:"items"`
}

// ProgressRequest asks for a group's aggregate progress.
type ProgressRequest struct {
	GroupID string `json:"groupId"`
}

// ProgressResponse wraps the coordinator's view.
type ProgressResponse struct {
	Progress progress.GroupProgress `json:"progress"`
}

// DestroyResponse acknowledges teardown.
type DestroyResponse struct {
	Destroyed bool `json:"destroyed"`
}
