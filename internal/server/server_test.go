package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/trellis-dev/trellis/internal/executor"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/orchestrator"
	"github.com/trellis-dev/trellis/internal/server"
	"github.com/trellis-dev/trellis/internal/testutil"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	orch, err := orchestrator.New(context.Background(), testutil.TestConfig(), log.Nop(), nil)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	srv, err := server.NewServer(orch, "", log.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			t.Errorf("Start: %v", err)
		}
	}()
	t.Cleanup(func() {
		_ = srv.Stop()
		_ = orch.Destroy()
	})
	return "http://" + srv.Addr()
}

// post sends a JSON request, decodes the body into out when non-nil, and
// returns the status code.
func post(t *testing.T, url string, in, out any) int {
	t.Helper()
	body, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	base := newTestServer(t)
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	base := newTestServer(t)

	var disc struct {
		Recommendations []struct {
			Technique string `json:"technique"`
		} `json:"recommendations"`
	}
	if code := post(t, base+"/discover", server.DiscoverRequest{
		Problem: "improve the existing checkout experience for users",
	}, &disc); code != http.StatusOK {
		t.Fatalf("/discover status = %d", code)
	}
	if len(disc.Recommendations) == 0 {
		t.Fatal("no recommendations")
	}

	var plan server.PlanResponse
	if code := post(t, base+"/plan", server.PlanRequest{
		Problem:    "improve the existing checkout experience for users",
		Techniques: []string{"six_hats", "scamper"},
	}, &plan); code != http.StatusOK {
		t.Fatalf("/plan status = %d", code)
	}
	if plan.PlanID == "" || plan.GroupID == "" || plan.Graph == nil {
		t.Fatalf("incomplete plan response: %+v", plan)
	}

	var result executor.Result
	if code := post(t, base+"/execute", server.ExecuteRequest{
		PlanID:         plan.PlanID,
		Technique:      "six_hats",
		Problem:        "improve the existing checkout experience for users",
		Step:           1,
		Output:         "process framing",
		NextStepNeeded: true,
	}, &result); code != http.StatusOK {
		t.Fatalf("/execute status = %d", code)
	}
	if result.Status != executor.StatusExecuted {
		t.Errorf("status = %q", result.Status)
	}

	var prog server.ProgressResponse
	if code := post(t, base+"/progress", server.ProgressRequest{
		GroupID: plan.GroupID,
	}, &prog); code != http.StatusOK {
		t.Fatalf("/progress status = %d", code)
	}
	if prog.Progress.OverallProgress <= 0 {
		t.Errorf("OverallProgress = %v", prog.Progress.OverallProgress)
	}
}

func TestPlanBeforeDiscoverIsConflict(t *testing.T) {
	base := newTestServer(t)
	code := post(t, base+"/plan", server.PlanRequest{
		Problem:    "anything",
		Techniques: []string{"po"},
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestProgressUnknownGroupIsNotFound(t *testing.T) {
	base := newTestServer(t)
	code := post(t, base+"/progress", server.ProgressRequest{GroupID: "nope"}, nil)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestExecuteRejectsMalformedJSON(t *testing.T) {
	base := newTestServer(t)
	resp, err := http.Post(base+"/execute", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
