package synchronizer

import (
	"testing"
	"time"

	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
)

func newStore(t *testing.T, strategy store.UpdateStrategy) *store.Store {
	t.Helper()
	cfg := store.DefaultStoreConfig()
	cfg.CleanupInterval = 0
	cfg.UpdateStrategy = strategy
	s := store.New(cfg, nil, log.Nop(), nil)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func shared(t *testing.T, s *store.Store, groupID string) *store.SharedContext {
	t.Helper()
	g, err := s.GetGroup(groupID)
	if err != nil {
		t.Fatalf("getting group: %v", err)
	}
	return g.Shared
}

func TestImmediateMerge(t *testing.T) {
	s := newStore(t, store.UpdateImmediate)
	sync := New(s)
	g, err := s.CreateGroup()
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}

	err = sync.Submit(g.ID, Update{
		SessionID: "a",
		Insights:  []string{"latency dominates cost"},
		Themes:    map[string]float64{"latency": 0.5},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx := shared(t, s, g.ID)
	if len(ctx.Insights) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(ctx.Insights))
	}
	if ctx.Themes["latency"] != 0.5 {
		t.Errorf("expected theme weight 0.5, got %v", ctx.Themes["latency"])
	}
}

func TestBatchedInvisibleUntilCheckpoint(t *testing.T) {
	s := newStore(t, store.UpdateBatched)
	sync := New(s)
	g, err := s.CreateGroup()
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}

	if err := sync.Submit(g.ID, Update{SessionID: "a", Insights: []string{"one"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sync.Submit(g.ID, Update{SessionID: "b", Insights: []string{"two"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got := len(shared(t, s, g.ID).Insights); got != 0 {
		t.Fatalf("batched updates visible before checkpoint: %d insights", got)
	}
	if sync.PendingCount(g.ID) != 2 {
		t.Fatalf("expected 2 pending, got %d", sync.PendingCount(g.ID))
	}

	if err := sync.ProcessCheckpoint(g.ID); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if got := len(shared(t, s, g.ID).Insights); got != 2 {
		t.Errorf("expected 2 insights after checkpoint, got %d", got)
	}
	if sync.PendingCount(g.ID) != 0 {
		t.Errorf("expected empty queue after checkpoint, got %d", sync.PendingCount(g.ID))
	}
}

func TestCheckpointAutoFlush(t *testing.T) {
	s := newStore(t, store.UpdateCheckpoint)
	sync := New(s)
	g, err := s.CreateGroup()
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}
	a, err := s.CreateSession("six_hats", "p", store.SessionOptions{GroupID: g.ID})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	b, err := s.CreateSession("scamper", "p", store.SessionOptions{GroupID: g.ID})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if err := sync.Submit(g.ID, Update{SessionID: a.ID, Insights: []string{"from a"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sync.Submit(g.ID, Update{SessionID: b.ID, Insights: []string{"from b"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := sync.MarkCheckpoint(g.ID, a.ID); err != nil {
		t.Fatalf("mark a: %v", err)
	}
	if got := len(shared(t, s, g.ID).Insights); got != 0 {
		t.Fatalf("flush before all members checked in: %d insights", got)
	}

	if err := sync.MarkCheckpoint(g.ID, b.ID); err != nil {
		t.Fatalf("mark b: %v", err)
	}
	if got := len(shared(t, s, g.ID).Insights); got != 2 {
		t.Errorf("expected auto-flush after last member, got %d insights", got)
	}
}

func TestInsightDeduplication(t *testing.T) {
	s := newStore(t, store.UpdateImmediate)
	sync := New(s)
	g, _ := s.CreateGroup()

	for i := 0; i < 3; i++ {
		if err := sync.Submit(g.ID, Update{SessionID: "a", Insights: []string{"same insight", ""}}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if got := len(shared(t, s, g.ID).Insights); got != 1 {
		t.Errorf("expected duplicate insights collapsed to 1, got %d", got)
	}
}

func TestThemeWeightsSum(t *testing.T) {
	s := newStore(t, store.UpdateImmediate)
	sync := New(s)
	g, _ := s.CreateGroup()

	_ = sync.Submit(g.ID, Update{SessionID: "a", Themes: map[string]float64{"risk": 0.3}})
	_ = sync.Submit(g.ID, Update{SessionID: "b", Themes: map[string]float64{"risk": 0.4}})

	got := shared(t, s, g.ID).Themes["risk"]
	if got < 0.69 || got > 0.71 {
		t.Errorf("expected summed weight ~0.7, got %v", got)
	}
}

func TestMetricsLastWriterWins(t *testing.T) {
	s := newStore(t, store.UpdateImmediate)
	sync := New(s)
	g, _ := s.CreateGroup()

	early := time.Now()
	late := early.Add(time.Second)

	_ = sync.Submit(g.ID, Update{
		SessionID: "a",
		Metrics:   map[string]any{"score": 1},
		Timestamp: late,
	})
	// An older write for the same (session, field) must not overwrite.
	_ = sync.Submit(g.ID, Update{
		SessionID: "a",
		Metrics:   map[string]any{"score": 2},
		Timestamp: early,
	})

	mv, ok := shared(t, s, g.ID).Metrics["a.score"]
	if !ok {
		t.Fatal("metric a.score missing")
	}
	if mv.Value != 1 {
		t.Errorf("expected newest value 1 to win, got %v", mv.Value)
	}

	// Different sessions never collide.
	_ = sync.Submit(g.ID, Update{
		SessionID: "b",
		Metrics:   map[string]any{"score": 9},
		Timestamp: early,
	})
	if _, ok := shared(t, s, g.ID).Metrics["b.score"]; !ok {
		t.Error("metric b.score missing")
	}
}

func TestSubmitUnknownGroup(t *testing.T) {
	s := newStore(t, store.UpdateImmediate)
	sync := New(s)
	if err := sync.Submit("missing", Update{SessionID: "a"}); err == nil {
		t.Fatal("expected error for unknown group")
	}
}
