// Package log provides structured event logging.
// This file appends JSON events to log.jsonl.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants.
const (
	EventDiscoverComplete = "discover_complete"
	EventPlanCreated      = "plan_created"
	EventSessionCreated   = "session_created"
	EventStepExecuted     = "step_executed"
	EventStepWaiting      = "step_waiting"
	EventStepFailed       = "step_failed"
	EventSessionComplete  = "session_complete"
	EventSessionEvicted   = "session_evicted"
	EventGroupCreated     = "group_created"
	EventGroupCompleted   = "group_completed"
	EventDeadlockSuspect  = "deadlock_suspected"
	EventOptionsGenerated = "options_generated"
	EventBarrierDetected  = "barrier_detected"
	EventPersistenceError = "persistence_error"
	EventDestroyed        = "orchestrator_destroyed"
)

// LogEvent represents a single structured event written to the log.
type LogEvent struct {
	Time        time.Time              `json:"time"`
	Event       string                 `json:"event"`
	SessionID   string                 `json:"session,omitempty"`
	PlanID      string                 `json:"plan,omitempty"`
	GroupID     string                 `json:"group,omitempty"`
	Technique   string                 `json:"technique,omitempty"`
	Step        int                    `json:"step,omitempty"`
	TotalSteps  int                    `json:"total_steps,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Flexibility float64                `json:"flexibility,omitempty"`
	Options     int                    `json:"options,omitempty"`
	Completed   int                    `json:"completed,omitempty"`
	Failed      int                    `json:"failed,omitempty"`
	Total       int                    `json:"total,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a log file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to .trellis/log.jsonl inside dir.
// Creates the .trellis/ directory if it does not already exist.
// Does not truncate an existing log file.
func NewLogger(dir string) (*Logger, error) {
	trellisDir := filepath.Join(dir, ".trellis")
	if err := os.MkdirAll(trellisDir, 0755); err != nil {
		return nil, fmt.Errorf("create .trellis directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(trellisDir, "log.jsonl"),
	}, nil
}

// Append writes a single LogEvent as one JSON line to the log file.
// If event.Time is the zero value, it is automatically set to time.Now().UTC().
// Thread-safe via mutex.
func (l *Logger) Append(event LogEvent) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}

	return nil
}

// ReadAll reads and parses all events from the log file.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Logger) ReadAll() ([]LogEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEvent{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse log line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return events, nil
}
