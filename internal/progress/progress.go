// Package progress aggregates step progress across a parallel group,
// detects stalls, and emits group-completion events.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellis-dev/trellis/internal/log"
	"github.com/trellis-dev/trellis/internal/store"
)

// Status is a session's latest execution state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Update is one progress observation for a session.
type Update struct {
	GroupID     string    `json:"groupId"`
	SessionID   string    `json:"sessionId"`
	Technique   string    `json:"technique"`
	CurrentStep int       `json:"currentStep"`
	TotalSteps  int       `json:"totalSteps"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// GroupProgress is the aggregate view returned to callers.
type GroupProgress struct {
	GroupID            string            `json:"groupId"`
	Counts             map[Status]int    `json:"counts"`
	OverallProgress    float64           `json:"overallProgress"` // 0..1
	EstimatedRemaining time.Duration     `json:"estimatedRemaining"`
	Deadlocked         bool              `json:"deadlocked"`
	Sessions           map[string]Update `json:"sessions"`
}

// Completion is emitted once every member session has finished.
type Completion struct {
	GroupID   string `json:"groupId"`
	Success   bool   `json:"success"` // true only when nothing failed
	Status    string `json:"status"`  // completed or partial_success
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

type groupState struct {
	latest      map[string]Update
	lastSeen    map[string]time.Time // per-session time of previous step change
	durations   []time.Duration      // observed step durations
	startedAt   time.Time
	completedAt time.Time
	finished    bool
}

// Coordinator is the event-driven progress aggregator. It keeps the latest
// update per session, answers group-level queries, streams updates to
// subscribers, and retires finished-group bookkeeping after a retention
// window.
type Coordinator struct {
	store       *store.Store
	logger      zerolog.Logger
	events      *log.Logger
	retention   time.Duration
	gracePeriod time.Duration

	mu          sync.RWMutex
	groups      map[string]*groupState
	subs        map[string]map[uint64]func(Update)
	nextSubID   uint64
	completions []func(Completion)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Options configures the coordinator.
type Options struct {
	Retention   time.Duration // how long finished-group state is kept (default 30m)
	GracePeriod time.Duration // minimum group age before deadlock is flagged
}

// New creates a Coordinator and starts its retention sweep. events may be
// nil.
func New(s *store.Store, logger zerolog.Logger, events *log.Logger, opts Options) *Coordinator {
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	c := &Coordinator{
		store:       s,
		logger:      logger,
		events:      events,
		retention:   opts.Retention,
		gracePeriod: opts.GracePeriod,
		groups:      make(map[string]*groupState),
		subs:        make(map[string]map[uint64]func(Update)),
		done:        make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

// Record ingests one progress update and notifies subscribers. When the
// update finishes the group, a completion event fires and the final group
// status is persisted through the store.
func (c *Coordinator) Record(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	c.mu.Lock()
	gs, ok := c.groups[u.GroupID]
	if !ok {
		gs = &groupState{
			latest:    make(map[string]Update),
			lastSeen:  make(map[string]time.Time),
			startedAt: u.Timestamp,
		}
		c.groups[u.GroupID] = gs
	}

	// Record a step duration whenever the session advances.
	if prev, seen := gs.latest[u.SessionID]; seen {
		if u.CurrentStep > prev.CurrentStep || u.Status == StatusCompleted {
			if last, ok := gs.lastSeen[u.SessionID]; ok {
				gs.durations = append(gs.durations, u.Timestamp.Sub(last))
			}
			gs.lastSeen[u.SessionID] = u.Timestamp
		}
	} else {
		gs.lastSeen[u.SessionID] = u.Timestamp
	}
	gs.latest[u.SessionID] = u

	completion, finished := c.checkCompletionLocked(u.GroupID, gs)

	fns := make([]func(Update), 0, len(c.subs[u.GroupID]))
	for _, fn := range c.subs[u.GroupID] {
		fns = append(fns, fn)
	}
	var completionFns []func(Completion)
	if finished {
		completionFns = append(completionFns, c.completions...)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
	if finished {
		c.finishGroup(completion, completionFns)
	}
}

// checkCompletionLocked decides whether the group just finished. Must be
// called with c.mu held.
func (c *Coordinator) checkCompletionLocked(groupID string, gs *groupState) (Completion, bool) {
	if gs.finished || len(gs.latest) == 0 {
		return Completion{}, false
	}
	completed, failed := 0, 0
	for _, u := range gs.latest {
		switch u.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		default:
			return Completion{}, false
		}
	}

	// All sessions the coordinator knows about are terminal; confirm the
	// group has no members still unseen.
	if g, err := c.store.GetGroup(groupID); err == nil && len(g.SessionIDs) > len(gs.latest) {
		return Completion{}, false
	}

	gs.finished = true
	gs.completedAt = time.Now()

	status := store.GroupCompleted
	switch {
	case failed > 0 && completed == 0:
		status = store.GroupFailed
	case failed > 0:
		status = store.GroupPartialSuccess
	}
	return Completion{
		GroupID:   groupID,
		Success:   failed == 0,
		Status:    status,
		Completed: completed,
		Failed:    failed,
	}, true
}

func (c *Coordinator) finishGroup(completion Completion, fns []func(Completion)) {
	if err := c.store.SetGroupStatus(completion.GroupID, completion.Status); err != nil {
		c.logger.Warn().Err(err).Str("group", completion.GroupID).Msg("persisting final group status")
	}
	if c.events != nil {
		_ = c.events.Append(log.LogEvent{
			Event:     log.EventGroupCompleted,
			GroupID:   completion.GroupID,
			Status:    completion.Status,
			Completed: completion.Completed,
			Failed:    completion.Failed,
		})
	}
	for _, fn := range fns {
		fn(completion)
	}
}

// GroupProgress returns the aggregate progress for a group.
func (c *Coordinator) GroupProgress(groupID string) (GroupProgress, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gs, ok := c.groups[groupID]
	if !ok {
		return GroupProgress{}, &store.NotFoundError{Kind: "group", ID: groupID}
	}

	gp := GroupProgress{
		GroupID:  groupID,
		Counts:   make(map[Status]int),
		Sessions: make(map[string]Update, len(gs.latest)),
	}

	var doneSteps, totalSteps, remainingSteps int
	for id, u := range gs.latest {
		gp.Sessions[id] = u
		gp.Counts[u.Status]++
		totalSteps += u.TotalSteps
		equiv := u.CurrentStep
		if u.Status == StatusCompleted {
			equiv = u.TotalSteps
		}
		if equiv > u.TotalSteps {
			equiv = u.TotalSteps
		}
		doneSteps += equiv
		if u.Status != StatusCompleted && u.Status != StatusFailed {
			remainingSteps += u.TotalSteps - equiv
		}
	}
	if totalSteps > 0 {
		gp.OverallProgress = float64(doneSteps) / float64(totalSteps)
	}
	if avg := averageDuration(gs.durations); avg > 0 {
		gp.EstimatedRemaining = time.Duration(remainingSteps) * avg
	}
	gp.Deadlocked = c.deadlockedLocked(gs)
	return gp, nil
}

// CheckForDeadlock reports whether every member session's latest status is
// waiting. Advisory only: callers decide remediation.
func (c *Coordinator) CheckForDeadlock(groupID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gs, ok := c.groups[groupID]
	if !ok {
		return false
	}
	deadlocked := c.deadlockedLocked(gs)
	if deadlocked && c.events != nil {
		_ = c.events.Append(log.LogEvent{Event: log.EventDeadlockSuspect, GroupID: groupID})
	}
	return deadlocked
}

// deadlockedLocked applies the all-waiting rule with a grace period so a
// freshly-started group is never flagged before its dependencies have had
// a chance to run.
func (c *Coordinator) deadlockedLocked(gs *groupState) bool {
	if len(gs.latest) == 0 || gs.finished {
		return false
	}
	if c.gracePeriod > 0 && time.Since(gs.startedAt) < c.gracePeriod {
		return false
	}
	for _, u := range gs.latest {
		if u.Status != StatusWaiting {
			return false
		}
	}
	return true
}

// StreamGroupProgress subscribes fn to a group's updates. The subscriber
// immediately receives a snapshot of every session's latest update, then
// every subsequent update until the returned unsubscribe function is
// called.
func (c *Coordinator) StreamGroupProgress(groupID string, fn func(Update)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	if c.subs[groupID] == nil {
		c.subs[groupID] = make(map[uint64]func(Update))
	}
	c.subs[groupID][id] = fn

	var snapshot []Update
	if gs, ok := c.groups[groupID]; ok {
		for _, u := range gs.latest {
			snapshot = append(snapshot, u)
		}
	}
	c.mu.Unlock()

	for _, u := range snapshot {
		fn(u)
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if subs, ok := c.subs[groupID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(c.subs, groupID)
			}
		}
	}
}

// OnCompletion registers a callback fired when any group finishes.
func (c *Coordinator) OnCompletion(fn func(Completion)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, fn)
}

// GroupCount returns the number of groups with live bookkeeping.
func (c *Coordinator) GroupCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups)
}

// Stop halts the retention sweep. Idempotent.
func (c *Coordinator) Stop() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.retire()
		}
	}
}

// retire drops bookkeeping for groups that finished longer ago than the
// retention window.
func (c *Coordinator) retire() {
	cutoff := time.Now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, gs := range c.groups {
		if gs.finished && gs.completedAt.Before(cutoff) {
			delete(c.groups, id)
			delete(c.subs, id)
		}
	}
}

func averageDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}
