// Package server exposes the orchestrator over a local HTTP JSON API.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/trellis-dev/trellis/internal/convergence"
	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/graph"
	"github.com/trellis-dev/trellis/internal/guard"
	"github.com/trellis-dev/trellis/internal/orchestrator"
	"github.com/trellis-dev/trellis/internal/store"
)

// Server is the HTTP front-end clients use for the discover, plan,
// execute, and converge workflow.
type Server struct {
	orch     *orchestrator.Orchestrator
	logger   zerolog.Logger
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server bound to addr. An empty addr binds a random
// port on localhost.
func NewServer(orch *orchestrator.Orchestrator, addr string, logger zerolog.Logger) (*Server, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: binding listener: %w", err)
	}

	s := &Server{
		orch:     orch,
		logger:   logger,
		listener: ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/discover", s.handleDiscover)
	mux.HandleFunc("/plan", s.handlePlan)
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/execute_batch", s.handleExecuteBatch)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/converge", s.handleConverge)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/destroy", s.handleDestroy)

	s.server = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. Call in a goroutine.
func (s *Server) Start() error {
	return s.server.Serve(s.listener)
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	return s.server.Close()
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, s.orch.Discover(req.Problem))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !readJSON(w, r, &req) {
		return
	}
	plan, err := s.orch.Plan(req.Problem, req.Techniques, graph.Mode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, PlanResponse{
		PlanID:  plan.ID,
		GroupID: plan.GroupID,
		Graph:   plan.Graph,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !readJSON(w, r, &req) {
		return
	}
	result, err := s.orch.ExecuteStep(r.Context(), toOrchestratorRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req ExecuteBatchRequest
	if !readJSON(w, r, &req) {
		return
	}
	calls := make([]orchestrator.ExecuteRequest, len(req.Calls))
	for i, c := range req.Calls {
		calls[i] = toOrchestratorRequest(c)
	}
	items, err := s.orch.ExecuteBatch(r.Context(), calls)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ExecuteBatchResponse{Items: make([]BatchItem, len(items))}
	for i, item := range items {
		resp.Items[i].Result = item.Result
		if item.Err != nil {
			resp.Items[i].Error = item.Err.Error()
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if !readJSON(w, r, &req) {
		return
	}
	gp, err := s.orch.GroupProgress(req.GroupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ProgressResponse{Progress: gp})
}

func (s *Server) handleConverge(w http.ResponseWriter, r *http.Request) {
	var req convergence.Input
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.orch.Converge(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orch.Stats())
}

func (s *Server) handleDestroy(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.Destroy(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, DestroyResponse{Destroyed: true})
}

func toOrchestratorRequest(req ExecuteRequest) orchestrator.ExecuteRequest {
	return orchestrator.ExecuteRequest{
		PlanID: req.PlanID,
		Request: executor.Request{
			SessionID:       req.SessionID,
			Technique:       req.Technique,
			Problem:         req.Problem,
			Step:            req.Step,
			TotalSteps:      req.TotalSteps,
			Output:          req.Output,
			NextStepNeeded:  req.NextStepNeeded,
			Data:            req.Data,
			GroupID:         req.GroupID,
			DependsOn:       req.DependsOn,
			Themes:          req.Themes,
			Metrics:         req.Metrics,
			Checkpoint:      req.Checkpoint,
			CanSkipIfFailed: req.CanSkipIfFailed,
			Impact:          req.Impact,
		},
	}
}

// --- Helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		// Allow empty body for requests with no fields.
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP status codes: order violations
// are client mistakes, missing records are 404, everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case guard.IsOrderError(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case store.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
