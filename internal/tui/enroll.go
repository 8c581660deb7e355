// Package tui implements the reference interactive enrollment console
// (spec section 4.11): a progress bar that advances one segment per
// completed capture stage, and the current retry hint, replacing rather
// than stacking as new ones arrive. Styling and the streaming-channel ->
// tea.Msg bridge follow this codebase's existing bubbletea console.
package tui

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399")).
			Bold(true)
)

// progressMsg carries one action.ProgressEvent from the enrollment
// goroutine into the Bubble Tea update loop.
type progressMsg action.ProgressEvent

// doneMsg reports Enroll's terminal outcome.
type doneMsg struct {
	record action.EnrollmentRecord
	err    error
}

// Model drives Core.Enroll and renders its progress.
type Model struct {
	core          *action.Core
	roots         *x509.CertPool
	expectedModel string

	events chan action.ProgressEvent
	result chan doneMsg

	stage          string
	stagesComplete int
	stagesTotal    int
	hint           action.RetryHint
	done           bool
	err            error
	record         action.EnrollmentRecord

	bar progress.Model
}

// NewModel builds an enrollment console Model bound to core.
func NewModel(core *action.Core, roots *x509.CertPool, expectedModel string) Model {
	return Model{
		core:          core,
		roots:         roots,
		expectedModel: expectedModel,
		events:        make(chan action.ProgressEvent, 32),
		result:        make(chan doneMsg, 1),
		bar:           progress.New(progress.WithSolidFill("#10B981")),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startEnroll(), m.waitForEvent())
}

// startEnroll runs Enroll on its own goroutine, feeding progress events
// into m.events and the terminal result into m.result; both channels are
// owned by this Model for its lifetime.
func (m Model) startEnroll() tea.Cmd {
	return func() tea.Msg {
		go func() {
			rec, err := m.core.Enroll(context.Background(), m.roots, m.expectedModel, func(ev action.ProgressEvent) {
				m.events <- ev
			})
			m.result <- doneMsg{record: rec, err: err}
		}()
		return nil
	}
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.events:
			return progressMsg(ev)
		case res := <-m.result:
			return res
		case <-time.After(30 * time.Second):
			return progressMsg(action.ProgressEvent{Stage: m.stage})
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 4
		return m, nil
	case tea.KeyMsg:
		if m.done && (msg.String() == "enter" || msg.String() == "q" || msg.String() == "esc") {
			return m, tea.Quit
		}
	case progressMsg:
		m.stage = msg.Stage
		var cmd tea.Cmd
		if msg.StagesTotal > 0 {
			m.stagesComplete = msg.StagesComplete
			m.stagesTotal = msg.StagesTotal
			cmd = m.bar.SetPercent(float64(m.stagesComplete) / float64(m.stagesTotal))
		}
		m.hint = msg.Hint
		return m, tea.Batch(cmd, m.waitForEvent())
	case doneMsg:
		m.done = true
		m.err = msg.err
		m.record = msg.record
		return m, nil
	case progress.FrameMsg:
		barModel, cmd := m.bar.Update(msg)
		m.bar = barModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Fingerprint Enrollment") + "\n\n")

	if m.stagesTotal > 0 {
		b.WriteString(m.bar.View() + "\n")
		b.WriteString(fmt.Sprintf("stage %s (%d/%d)\n", m.stage, m.stagesComplete, m.stagesTotal))
	} else {
		b.WriteString(fmt.Sprintf("stage: %s\n", m.stage))
	}

	switch m.hint {
	case action.RetryHintCenterFinger:
		b.WriteString(hintStyle.Render("Center your finger on the sensor") + "\n")
	case action.RetryHintRemoveFinger:
		b.WriteString(hintStyle.Render("Lift your finger and try again") + "\n")
	case action.RetryHintCleanSensor:
		b.WriteString(hintStyle.Render("Clean the sensor surface") + "\n")
	}

	if m.done {
		if m.err != nil {
			b.WriteString("\n" + errorStyle.Render("enrollment failed: "+m.err.Error()) + "\n")
		} else {
			b.WriteString("\n" + successStyle.Render("enrollment complete") + "\n")
		}
		b.WriteString("\npress enter to exit\n")
	}

	return b.String()
}
