// Package ui provides terminal UI components for trellis.
// This file implements the live progress display for a parallel group.
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// SessionStatus represents the display status of a single session.
type SessionStatus int

const (
	StatusWaiting   SessionStatus = iota // Blocked on dependencies
	StatusExecuting                      // Currently running a step
	StatusCompleted                      // Finished successfully
	StatusFailed                         // Failed or timed out
)

// SessionState holds the display state of a single session.
type SessionState struct {
	ID         string
	Technique  string
	Status     SessionStatus
	Step       int
	TotalSteps int
	Elapsed    time.Duration
	WaitingFor []string // IDs of sessions blocking this one
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ProgressDisplay manages a live-updating terminal progress view for one
// parallel group.
type ProgressDisplay struct {
	mu           sync.Mutex
	problem      string
	sessions     []*SessionState
	sessionIndex map[string]int // ID -> index in sessions slice
	started      bool
	isTTY        bool
	linesDrawn   int
	startTimes   map[string]time.Time
	lastPrinted  map[string]SessionStatus // last printed status per session (non-TTY)
}

// NewProgressDisplay creates a ProgressDisplay for the given problem.
func NewProgressDisplay(problem string) *ProgressDisplay {
	return &ProgressDisplay{
		problem:      problem,
		sessionIndex: make(map[string]int),
		startTimes:   make(map[string]time.Time),
		lastPrinted:  make(map[string]SessionStatus),
		isTTY:        term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// AddSession registers a session for progress tracking.
func (p *ProgressDisplay) AddSession(id, techniqueName string, totalSteps int, waitingFor []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessionIndex[id]; exists {
		return
	}
	state := &SessionState{
		ID:         id,
		Technique:  techniqueName,
		Status:     StatusWaiting,
		TotalSteps: totalSteps,
		WaitingFor: waitingFor,
	}
	p.sessionIndex[id] = len(p.sessions)
	p.sessions = append(p.sessions, state)
}

// Start draws the initial progress display.
func (p *ProgressDisplay) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = true
	p.render()
}

// UpdateSession updates a session's status and re-renders the display.
func (p *ProgressDisplay) UpdateSession(id string, status SessionStatus, step int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.sessionIndex[id]
	if !ok {
		return
	}

	sess := p.sessions[idx]
	sess.Status = status
	if step > sess.Step {
		sess.Step = step
	}

	switch status {
	case StatusExecuting:
		if _, ok := p.startTimes[id]; !ok {
			p.startTimes[id] = time.Now()
		}
	case StatusCompleted, StatusFailed:
		if start, ok := p.startTimes[id]; ok {
			sess.Elapsed = time.Since(start)
		}
	}

	if p.started {
		p.render()
	}
}

// Finish finalizes the display by moving the cursor below all output
// and printing a summary line.
func (p *ProgressDisplay) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isTTY && p.linesDrawn > 0 {
		fmt.Print("\n")
	}

	completed := 0
	failed := 0
	for _, s := range p.sessions {
		switch s.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}

	total := len(p.sessions)
	fmt.Printf("\nDone: %d/%d sessions completed", completed, total)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println()
}

// render draws or redraws the progress display.
func (p *ProgressDisplay) render() {
	if !p.isTTY {
		p.renderPlain()
		return
	}
	p.renderTTY()
}

// renderTTY draws the display using ANSI cursor movement for in-place
// updates; colors come from lipgloss styles.
func (p *ProgressDisplay) renderTTY() {
	if p.linesDrawn > 0 {
		fmt.Printf("\033[%dA", p.linesDrawn)
	}

	var buf strings.Builder

	buf.WriteString("\033[2K")
	buf.WriteString(headerStyle.Render(fmt.Sprintf("Trellis - %q", p.problem)))
	buf.WriteString("\n\033[2K\n")

	for _, sess := range p.sessions {
		buf.WriteString("\033[2K")
		buf.WriteString(formatSessionLine(sess, p.startTimes))
		buf.WriteString("\n")
	}

	fmt.Print(buf.String())
	p.linesDrawn = len(p.sessions) + 2 // header + blank + sessions
}

// renderPlain writes non-TTY output (for CI/piping).
// Only prints on status transitions to avoid duplicate lines.
func (p *ProgressDisplay) renderPlain() {
	for _, sess := range p.sessions {
		if prev, seen := p.lastPrinted[sess.ID]; seen && prev == sess.Status {
			continue
		}
		fmt.Println(formatSessionLinePlain(sess))
		p.lastPrinted[sess.ID] = sess.Status
	}
}

func formatSessionLine(sess *SessionState, startTimes map[string]time.Time) string {
	icon := statusIcon(sess.Status)
	detail := statusDetail(sess, startTimes)

	id := sess.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("  %s %-8s %-20s %s", icon, id, sess.Technique, detail)
}

func formatSessionLinePlain(sess *SessionState) string {
	var status string
	switch sess.Status {
	case StatusWaiting:
		status = "WAITING"
	case StatusExecuting:
		status = fmt.Sprintf("RUNNING (step %d/%d)", sess.Step, sess.TotalSteps)
	case StatusCompleted:
		status = fmt.Sprintf("DONE [%s]", formatDuration(sess.Elapsed))
	case StatusFailed:
		status = "FAILED"
	}
	return fmt.Sprintf("[%s] %s: %s", status, sess.ID, sess.Technique)
}

func statusIcon(status SessionStatus) string {
	switch status {
	case StatusCompleted:
		return doneStyle.Render("✓")
	case StatusExecuting:
		return runningStyle.Render("▶")
	case StatusFailed:
		return failedStyle.Render("✗")
	default:
		return dimStyle.Render("○")
	}
}

func statusDetail(sess *SessionState, startTimes map[string]time.Time) string {
	switch sess.Status {
	case StatusCompleted:
		return dimStyle.Render(fmt.Sprintf("[%s]", formatDuration(sess.Elapsed)))
	case StatusExecuting:
		elapsed := time.Since(startTimes[sess.ID])
		return runningStyle.Render(fmt.Sprintf("[step %d/%d, %s]", sess.Step, sess.TotalSteps, formatDuration(elapsed)))
	case StatusFailed:
		return failedStyle.Render("[failed]")
	default:
		if len(sess.WaitingFor) > 0 {
			return dimStyle.Render(fmt.Sprintf("[waiting on %s]", strings.Join(sess.WaitingFor, ", ")))
		}
		return dimStyle.Render("[waiting]")
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
