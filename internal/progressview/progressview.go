// Package progressview is a read-only live view of a migration run: it
// polls the Migration Status Tracker's durable state on an interval and
// renders phase-by-phase progress plus the current traffic split. It never
// drives the migration itself — Phase Engine is the only writer of state.
package progressview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lockplane/rowmigrate/internal/statetracker"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSuccess = lipgloss.Color("#04B575")
	colorError   = lipgloss.Color("#FF4672")
	colorInfo    = lipgloss.Color("#00D9FF")
	colorSubtle  = lipgloss.Color("#777777")

	headerStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	doneStyle   = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(colorSubtle)
)

func phaseIcon(status statetracker.PhaseStatus) (string, lipgloss.Style) {
	switch status {
	case statetracker.Completed:
		return "✓", doneStyle
	case statetracker.Failed:
		return "✗", failStyle
	case statetracker.InProgress:
		return "▶", activeStyle
	default:
		return "·", idleStyle
	}
}

type tickMsg time.Time

// Model is the bubbletea model driving the read-only view.
type Model struct {
	tracker  *statetracker.Tracker
	poll     time.Duration
	bar      progress.Model
	quitting bool
}

// New constructs a progress view over tracker, polling its in-memory
// status every poll interval.
func New(tracker *statetracker.Tracker, poll time.Duration) Model {
	return Model{
		tracker: tracker,
		poll:    poll,
		bar:     progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return tick(m.poll)
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		status := m.tracker.Status()
		if isTerminal(status.Overall) {
			return m, tea.Quit
		}
		return m, tick(m.poll)
	}
	return m, nil
}

func isTerminal(s statetracker.OverallStatus) bool {
	switch s {
	case statetracker.OverallCompleted, statetracker.OverallFailed,
		statetracker.OverallRolledBack, statetracker.OverallFailedUnrecoverable:
		return true
	default:
		return false
	}
}

func (m Model) View() string {
	status := m.tracker.Status()
	var b strings.Builder

	b.WriteString(headerStyle.Render("rowmigrate"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("overall: "))
	b.WriteString(overallStyle(status.Overall).Render(string(status.Overall)))
	b.WriteString("\n\n")

	for _, phase := range statetracker.Phases {
		rec := status.Phases[phase]
		icon, style := phaseIcon(rec.Status)
		b.WriteString(fmt.Sprintf("  %s %s\n", style.Render(icon), string(phase)))
		for _, w := range rec.Warnings {
			b.WriteString(labelStyle.Render(fmt.Sprintf("      warning: %s\n", w)))
		}
		for _, e := range rec.Errors {
			b.WriteString(failStyle.Render(fmt.Sprintf("      error: %s\n", e)))
		}
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("traffic: "))
	b.WriteString(m.bar.ViewAs(float64(status.CurrentTrafficPct) / 100))
	b.WriteString(fmt.Sprintf(" %d%%\n", status.CurrentTrafficPct))

	if m.quitting || isTerminal(status.Overall) {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("press q to exit"))
		b.WriteString("\n")
	}

	return b.String()
}

func overallStyle(s statetracker.OverallStatus) lipgloss.Style {
	switch s {
	case statetracker.OverallCompleted:
		return doneStyle
	case statetracker.OverallFailed, statetracker.OverallFailedUnrecoverable:
		return failStyle
	case statetracker.OverallRolledBack:
		return activeStyle
	default:
		return activeStyle
	}
}
