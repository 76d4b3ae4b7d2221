// Package synchronizer merges step outputs into a group's shared context.
// It is the sole writer of SharedContext: every mutation funnels through
// Submit, ProcessCheckpoint, or MarkCheckpoint.
package synchronizer

import (
	"fmt"
	"sync"
	"time"

	"github.com/trellis-dev/trellis/internal/store"
)

// Update is one session's contribution to the group's shared context.
type Update struct {
	SessionID string
	Insights  []string
	Themes    map[string]float64 // theme -> weight
	Metrics   map[string]any     // field -> value
	Timestamp time.Time
}

// Synchronizer applies updates per the group's configured strategy:
// immediate merges synchronously, batched queues until ProcessCheckpoint,
// and checkpoint queues until every member session reaches its checkpoint
// node.
type Synchronizer struct {
	store *store.Store

	mu          sync.Mutex
	pending     map[string][]Update        // groupID -> queued updates
	checkpoints map[string]map[string]bool // groupID -> sessions at checkpoint
}

// New returns a Synchronizer over the given store.
func New(s *store.Store) *Synchronizer {
	return &Synchronizer{
		store:       s,
		pending:     make(map[string][]Update),
		checkpoints: make(map[string]map[string]bool),
	}
}

// Submit routes an update according to the group's strategy.
func (s *Synchronizer) Submit(groupID string, u Update) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	g, err := s.store.GetGroup(groupID)
	if err != nil {
		return fmt.Errorf("submitting context update: %w", err)
	}

	switch g.Shared.Strategy {
	case store.UpdateImmediate, "":
		return s.apply(groupID, []Update{u})
	case store.UpdateBatched, store.UpdateCheckpoint:
		s.mu.Lock()
		s.pending[groupID] = append(s.pending[groupID], u)
		s.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unknown update strategy %q", g.Shared.Strategy)
	}
}

// ProcessCheckpoint flushes all queued updates for a group.
func (s *Synchronizer) ProcessCheckpoint(groupID string) error {
	s.mu.Lock()
	queued := s.pending[groupID]
	delete(s.pending, groupID)
	delete(s.checkpoints, groupID)
	s.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}
	return s.apply(groupID, queued)
}

// MarkCheckpoint records that a session reached its checkpoint node. Under
// the checkpoint strategy, the queue flushes automatically once every
// member session has checked in.
func (s *Synchronizer) MarkCheckpoint(groupID, sessionID string) error {
	g, err := s.store.GetGroup(groupID)
	if err != nil {
		return fmt.Errorf("marking checkpoint: %w", err)
	}
	if g.Shared.Strategy != store.UpdateCheckpoint {
		return nil
	}

	s.mu.Lock()
	reached, ok := s.checkpoints[groupID]
	if !ok {
		reached = make(map[string]bool)
		s.checkpoints[groupID] = reached
	}
	reached[sessionID] = true
	all := len(reached) >= len(g.SessionIDs)
	s.mu.Unlock()

	if all {
		return s.ProcessCheckpoint(groupID)
	}
	return nil
}

// PendingCount returns the number of queued updates for a group.
func (s *Synchronizer) PendingCount(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[groupID])
}

// apply merges updates into the group's shared context under the store
// lock. Conflict policy: theme weights are summed, insights deduplicate by
// content, metrics are last-writer-wins keyed by (sessionId, field).
func (s *Synchronizer) apply(groupID string, updates []Update) error {
	return s.store.UpdateGroup(groupID, func(g *store.ParallelGroup) error {
		ctx := g.Shared
		seen := make(map[string]bool, len(ctx.Insights))
		for _, existing := range ctx.Insights {
			seen[existing] = true
		}

		for _, u := range updates {
			for _, insight := range u.Insights {
				if insight == "" || seen[insight] {
					continue
				}
				seen[insight] = true
				ctx.Insights = append(ctx.Insights, insight)
			}
			for theme, weight := range u.Themes {
				ctx.Themes[theme] += weight
			}
			for field, value := range u.Metrics {
				key := u.SessionID + "." + field
				existing, ok := ctx.Metrics[key]
				if ok && existing.UpdatedAt.After(u.Timestamp) {
					continue
				}
				ctx.Metrics[key] = store.MetricValue{
					SessionID: u.SessionID,
					Field:     field,
					Value:     value,
					UpdatedAt: u.Timestamp,
				}
			}
		}
		return nil
	})
}
