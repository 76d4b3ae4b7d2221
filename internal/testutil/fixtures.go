// Package testutil provides test helper utilities for trellis tests.
package testutil

import (
	"testing"
	"time"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/graph"
	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
	"github.com/trellis-dev/trellis/internal/technique"
)

// Workflows builds full technique workflows from the catalogue, failing
// the test on an unknown technique name.
func Workflows(t *testing.T, names ...string) []graph.TechniqueWorkflow {
	t.Helper()
	workflows := make([]graph.TechniqueWorkflow, 0, len(names))
	for _, name := range names {
		info, ok := technique.Lookup(name)
		if !ok {
			t.Fatalf("unknown technique %q", name)
		}
		steps := make([]graph.StepSpec, info.Steps)
		for i := range steps {
			steps[i] = graph.StepSpec{Step: i + 1}
		}
		workflows = append(workflows, graph.TechniqueWorkflow{Technique: name, Steps: steps})
	}
	return workflows
}

// NewStore creates an in-memory Store with test-friendly limits and
// registers its teardown with the test.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.Config{
		MaxSessions:     50,
		MaxSessionBytes: 1 << 20,
		SessionTTL:      time.Hour,
		CleanupInterval: 10 * time.Millisecond,
		SessionTimeout:  time.Hour,
		GroupRetention:  time.Hour,
		UpdateStrategy:  store.UpdateImmediate,
	}, nil, log.Nop(), nil)
	t.Cleanup(func() {
		if err := s.Destroy(); err != nil {
			t.Errorf("destroying store: %v", err)
		}
	})
	return s
}

// TestConfig returns a default config tuned for fast tests.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sessions.CleanupInterval = 10 * time.Millisecond
	cfg.Execution.DeadlockGracePeriod = 0
	cfg.Log.Level = "error"
	return cfg
}
