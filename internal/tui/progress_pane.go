package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buildmatrix/matrixci/internal/events"
)

// ProgressPaneModel shows overall run progress and container image pull
// activity.
type ProgressPaneModel struct {
	total     int
	pending   int
	running   int
	succeeded int
	failed    int
	pulls     []string // most recent image pull status lines
	width     int
	height    int
	focused   bool
}

const maxPullLines = 4

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.RunProgressEvent:
		m.total = msg.Total
		m.pending = msg.Pending
		m.running = msg.Running
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed

	case events.ImagePullEvent:
		var line string
		switch {
		case msg.Err != nil:
			line = StyleStatusFailed.Render(fmt.Sprintf("pull %s failed: %v", msg.Image, msg.Err))
		case msg.Done:
			line = StyleStatusComplete.Render(fmt.Sprintf("pulled %s", msg.Image))
		default:
			line = StyleStatusRunning.Render(fmt.Sprintf("pulling %s...", msg.Image))
		}
		m.pulls = append(m.pulls, line)
		if len(m.pulls) > maxPullLines {
			m.pulls = m.pulls[len(m.pulls)-maxPullLines:]
		}
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.succeeded))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending))))

	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		doneWidth := (m.succeeded * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - doneWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.succeeded+m.failed, m.total))
	}

	if len(m.pulls) > 0 {
		b.WriteString("\n")
		for _, line := range m.pulls {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
