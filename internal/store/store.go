package store

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trellis-dev/trellis/internal/ergodicity"
	"github.com/trellis-dev/trellis/internal/graph"
	"github.com/trellis-dev/trellis/internal/log"
)

// Config bounds the store's resource usage.
type Config struct {
	MaxSessions     int
	MaxSessionBytes int
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	SessionTimeout  time.Duration // max time without progress before a grouped session is failed
	GroupRetention  time.Duration // how long completed group records are kept
	UpdateStrategy  UpdateStrategy
}

// DefaultStoreConfig returns the limits used when the caller passes a zero
// Config.
func DefaultStoreConfig() Config {
	return Config{
		MaxSessions:     100,
		MaxSessionBytes: 1 << 20,
		SessionTTL:      time.Hour,
		CleanupInterval: time.Minute,
		SessionTimeout:  10 * time.Minute,
		GroupRetention:  30 * time.Minute,
		UpdateStrategy:  UpdateImmediate,
	}
}

type saveRequest struct {
	id    string
	state []byte
}

// Store is the in-memory owner of sessions, plans, and parallel groups.
// Persistence is asynchronous and best-effort: adapter failures are logged
// and the store continues in-memory.
type Store struct {
	cfg     Config
	adapter Adapter
	logger  zerolog.Logger
	events  *log.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	plans     map[string]*Plan
	groups    map[string]*ParallelGroup
	locks     map[string]chan struct{}
	destroyed bool

	saveCh chan saveRequest
	done   chan struct{}
	wg     sync.WaitGroup

	// onSessionTimeout is invoked by the sweep when a grouped session
	// exceeds SessionTimeout without progress.
	onSessionTimeout func(sessionID, groupID string)
}

// New creates a Store and starts its cleanup sweep and persistence worker.
// adapter may be nil for in-memory-only operation; events may be nil.
func New(cfg Config, adapter Adapter, logger zerolog.Logger, events *log.Logger) *Store {
	if cfg.MaxSessions <= 0 {
		cfg = DefaultStoreConfig()
	}
	s := &Store{
		cfg:      cfg,
		adapter:  adapter,
		logger:   logger,
		events:   events,
		sessions: make(map[string]*Session),
		plans:    make(map[string]*Plan),
		groups:   make(map[string]*ParallelGroup),
		locks:    make(map[string]chan struct{}),
		saveCh:   make(chan saveRequest, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.persistLoop()

	if cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// OnSessionTimeout registers the callback invoked when the sweep fails a
// stalled grouped session. Must be set before concurrent use.
func (s *Store) OnSessionTimeout(fn func(sessionID, groupID string)) {
	s.onSessionTimeout = fn
}

// --- Sessions ---

// SessionOptions carries optional group wiring for a new session.
type SessionOptions struct {
	GroupID   string
	DependsOn []string
}

// CreateSession creates a session for a technique run. Fails with
// ErrSessionLimit when maxSessions is reached.
func (s *Store) CreateSession(technique, problem string, opts SessionOptions) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, fmt.Errorf("creating session: %w (max %d)", ErrSessionLimit, s.cfg.MaxSessions)
	}

	now := time.Now()
	sess := &Session{
		ID:              uuid.New().String(),
		Technique:       technique,
		Problem:         problem,
		PathMemory:      ergodicity.NewPathMemory(),
		ParallelGroupID: opts.GroupID,
		DependsOn:       opts.DependsOn,
		StartedAt:       now,
		LastActivity:    now,
	}
	s.sessions[sess.ID] = sess

	if opts.GroupID != "" {
		if g, ok := s.groups[opts.GroupID]; ok {
			g.SessionIDs = append(g.SessionIDs, sess.ID)
		}
	}
	s.enqueueSaveLocked(sess)
	return sess.clone(), nil
}

// GetSession returns a copy of the session with the given id, detached
// from the store. Mutations go through UpdateSession or AppendStep.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	return sess.clone(), nil
}

// UpdateSession applies fn to the session under the store lock and
// refreshes its activity time.
func (s *Store) UpdateSession(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	sess, ok := s.sessions[id]
	if !ok {
		return &NotFoundError{Kind: "session", ID: id}
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.LastActivity = time.Now()
	s.enqueueSaveLocked(sess)
	return nil
}

// AppendStep appends a history record, enforcing the per-session size cap.
func (s *Store) AppendStep(id string, rec StepRecord) error {
	return s.UpdateSession(id, func(sess *Session) error {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}
		size := sessionSize(sess) + recordSize(rec)
		if size > s.cfg.MaxSessionBytes {
			return fmt.Errorf("appending step %d to session %s: %w (%d bytes)",
				rec.Step, id, ErrSessionTooLarge, size)
		}
		sess.History = append(sess.History, rec)
		sess.Metrics.StepsCompleted++
		return nil
	})
}

// DeleteSession removes a session and releases its lock entry.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if _, ok := s.sessions[id]; !ok {
		return &NotFoundError{Kind: "session", ID: id}
	}
	delete(s.sessions, id)
	if ch, ok := s.locks[id]; ok {
		close(ch)
		delete(s.locks, id)
	}
	if s.adapter != nil {
		go func() {
			if _, err := s.adapter.Delete(id); err != nil {
				s.warnPersistence(id, err)
			}
		}()
	}
	return nil
}

// SessionIDs returns the ids of all live sessions.
func (s *Store) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// --- Per-session locks ---

// AcquireLock takes the session's mutual-exclusion lock. Concurrent
// requests queue behind the channel and are released in FIFO order. The
// returned function releases the lock and is safe to call once.
func (s *Store) AcquireLock(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	ch, ok := s.locks[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{} // seed the single token
		s.locks[sessionID] = ch
	}
	s.mu.Unlock()

	select {
	case _, open := <-ch:
		if !open {
			return nil, ErrDestroyed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if s.destroyed {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		})
	}
	return release, nil
}

// LockCount returns the number of lock entries currently held in the map.
func (s *Store) LockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

// --- Plans ---

// CreatePlan records a new plan.
func (s *Store) CreatePlan(problem string, workflow []graph.TechniqueWorkflow, mode graph.Mode) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	plan := &Plan{
		ID:        uuid.New().String(),
		Problem:   problem,
		Workflow:  workflow,
		Mode:      mode,
		CreatedAt: time.Now(),
	}
	s.plans[plan.ID] = plan
	return plan.clone(), nil
}

// GetPlan returns a copy of the plan with the given id.
func (s *Store) GetPlan(id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	plan, ok := s.plans[id]
	if !ok {
		return nil, &NotFoundError{Kind: "plan", ID: id}
	}
	return plan.clone(), nil
}

// AttachGraph sets the plan's precomputed execution graph. This is the
// only mutation a plan permits after creation.
func (s *Store) AttachGraph(planID string, g *graph.ExecutionGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	plan, ok := s.plans[planID]
	if !ok {
		return &NotFoundError{Kind: "plan", ID: planID}
	}
	plan.Graph = g
	return nil
}

// SetPlanGroup links a plan to the parallel group created for it.
func (s *Store) SetPlanGroup(planID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	plan, ok := s.plans[planID]
	if !ok {
		return &NotFoundError{Kind: "plan", ID: planID}
	}
	plan.GroupID = groupID
	return nil
}

// --- Parallel groups ---

// CreateGroup creates an active parallel group with the configured shared
// context strategy.
func (s *Store) CreateGroup(sessionIDs ...string) (*ParallelGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	strategy := s.cfg.UpdateStrategy
	if strategy == "" {
		strategy = UpdateImmediate
	}
	g := &ParallelGroup{
		ID:         uuid.New().String(),
		SessionIDs: append([]string(nil), sessionIDs...),
		Completed:  make(map[string]bool),
		Failed:     make(map[string]bool),
		Status:     GroupActive,
		Shared: &SharedContext{
			Themes:   make(map[string]float64),
			Metrics:  make(map[string]MetricValue),
			Strategy: strategy,
		},
		StartedAt: time.Now(),
	}
	s.groups[g.ID] = g
	return g.clone(), nil
}

// GetGroup returns a copy of the group with the given id, detached from
// the store. Membership and completion marks read from it are a
// consistent snapshot; mutations go through UpdateGroup and the mark
// methods.
func (s *Store) GetGroup(id string) (*ParallelGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	g, ok := s.groups[id]
	if !ok {
		return nil, &NotFoundError{Kind: "group", ID: id}
	}
	return g.clone(), nil
}

// UpdateGroup applies fn to the group under the store lock. The
// Synchronizer uses this as its single-writer funnel for SharedContext.
func (s *Store) UpdateGroup(id string, fn func(*ParallelGroup) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	g, ok := s.groups[id]
	if !ok {
		return &NotFoundError{Kind: "group", ID: id}
	}
	return fn(g)
}

// MarkSessionComplete records a member completion and closes the session.
func (s *Store) MarkSessionComplete(groupID, sessionID string) error {
	return s.markMember(groupID, sessionID, true)
}

// MarkSessionFailed records a member failure.
func (s *Store) MarkSessionFailed(groupID, sessionID string) error {
	return s.markMember(groupID, sessionID, false)
}

func (s *Store) markMember(groupID, sessionID string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	g, ok := s.groups[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	if completed {
		g.Completed[sessionID] = true
	} else {
		g.Failed[sessionID] = true
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.EndedAt = time.Now()
		s.enqueueSaveLocked(sess)
	}
	return nil
}

// SetGroupStatus persists the final status of a group.
func (s *Store) SetGroupStatus(groupID, status string) error {
	return s.UpdateGroup(groupID, func(g *ParallelGroup) error {
		g.Status = status
		if status != GroupActive {
			g.CompletedAt = time.Now()
		}
		return nil
	})
}

// --- Observability ---

// Stats returns per-session sizes and aggregate memory usage.
func (s *Store) Stats() MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := MemoryStats{
		Sessions:     len(s.sessions),
		Plans:        len(s.plans),
		Groups:       len(s.groups),
		SessionBytes: make(map[string]int, len(s.sessions)),
	}
	for id, sess := range s.sessions {
		size := sessionSize(sess)
		stats.SessionBytes[id] = size
		stats.TotalBytes += size
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.HeapBytes = mem.HeapAlloc
	return stats
}

// --- Lifecycle ---

// Destroy stops the cleanup timer and persistence worker, releases every
// outstanding lock, and clears all maps. Idempotent: safe to call any
// number of times.
func (s *Store) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	for _, ch := range s.locks {
		close(ch)
	}
	s.locks = make(map[string]chan struct{})
	s.sessions = make(map[string]*Session)
	s.plans = make(map[string]*Plan)
	s.groups = make(map[string]*ParallelGroup)
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// --- Background work ---

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts TTL-expired sessions, fails stalled grouped sessions, and
// retires completed-group bookkeeping after the retention window.
func (s *Store) sweep() {
	now := time.Now()
	type timeout struct{ sessionID, groupID string }
	var expired []string
	var timedOut []timeout

	s.mu.Lock()
	for id, sess := range s.sessions {
		idle := now.Sub(sess.LastActivity)
		if s.cfg.SessionTTL > 0 && idle > s.cfg.SessionTTL {
			expired = append(expired, id)
			continue
		}
		if s.cfg.SessionTimeout > 0 && idle > s.cfg.SessionTimeout &&
			sess.ParallelGroupID != "" && sess.EndedAt.IsZero() {
			if g, ok := s.groups[sess.ParallelGroupID]; ok && !g.Completed[id] && !g.Failed[id] {
				g.Failed[id] = true
				sess.EndedAt = now
				timedOut = append(timedOut, timeout{id, sess.ParallelGroupID})
			}
		}
	}
	for _, id := range expired {
		delete(s.sessions, id)
		if ch, ok := s.locks[id]; ok {
			close(ch)
			delete(s.locks, id)
		}
	}
	if s.cfg.GroupRetention > 0 {
		for id, g := range s.groups {
			if g.Status != GroupActive && !g.CompletedAt.IsZero() &&
				now.Sub(g.CompletedAt) > s.cfg.GroupRetention {
				delete(s.groups, id)
			}
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.logger.Info().Str("session", id).Msg("evicted expired session")
		if s.events != nil {
			_ = s.events.Append(log.LogEvent{Event: log.EventSessionEvicted, SessionID: id, Reason: "ttl"})
		}
	}
	for _, t := range timedOut {
		s.logger.Warn().Str("session", t.sessionID).Str("group", t.groupID).Msg("session timed out without progress")
		if s.onSessionTimeout != nil {
			s.onSessionTimeout(t.sessionID, t.groupID)
		}
	}
}

// persistLoop drains the save queue. Adapter latency never blocks session
// mutation; failures are logged and the store stays in-memory.
func (s *Store) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.saveCh:
			if s.adapter == nil {
				continue
			}
			if err := s.adapter.Save(req.id, req.state); err != nil {
				s.warnPersistence(req.id, err)
			}
		}
	}
}

// enqueueSaveLocked snapshots the session and hands it to the persistence
// worker. Must be called with s.mu held. A full queue drops the snapshot
// with a warning rather than blocking.
func (s *Store) enqueueSaveLocked(sess *Session) {
	if s.adapter == nil {
		return
	}
	state, err := json.Marshal(sess)
	if err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID).Msg("marshal session for persistence")
		return
	}
	select {
	case s.saveCh <- saveRequest{id: sess.ID, state: state}:
	default:
		s.logger.Warn().Str("session", sess.ID).Msg("persistence queue full, snapshot dropped")
	}
}

func (s *Store) warnPersistence(id string, err error) {
	s.logger.Warn().Err(err).Str("session", id).Msg("persistence failed, continuing in-memory")
	if s.events != nil {
		_ = s.events.Append(log.LogEvent{Event: log.EventPersistenceError, SessionID: id, Error: err.Error()})
	}
}

// sessionSize estimates the serialized size of a session's history.
func sessionSize(sess *Session) int {
	data, err := json.Marshal(sess.History)
	if err != nil {
		return 0
	}
	return len(data)
}

func recordSize(rec StepRecord) int {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	return len(data)
}
