package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buildmatrix/matrixci/internal/events"
)

// TaskState tracks the display state of a single build task.
type TaskState struct {
	Name     string
	Platform string
	Version  string
	Status   string // "running", "success", "failure", "timed_out"
	Output   []string
	Detail   string
	Duration time.Duration
}

// TaskPaneModel shows the task list on top and the selected task's build
// output below it.
type TaskPaneModel struct {
	tasks     map[string]*TaskState
	taskOrder []string // insertion order for stable display
	selected  int
	viewport  viewport.Model
	width     int
	height    int
	focused   bool
	dirty     bool // output changed since last viewport refresh
}

// tickMsg drives the debounced viewport refresh.
type tickMsg time.Time

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyUp, KeyK:
			if m.selected > 0 {
				m.selected--
				m.refreshViewport()
			}
		case KeyDown, KeyJ:
			if m.selected < len(m.taskOrder)-1 {
				m.selected++
				m.refreshViewport()
			}
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case events.TaskStartedEvent:
		if _, ok := m.tasks[msg.Name]; !ok {
			m.taskOrder = append(m.taskOrder, msg.Name)
		}
		m.tasks[msg.Name] = &TaskState{
			Name:     msg.Name,
			Platform: msg.PlatformLabel,
			Version:  msg.Version,
			Status:   "running",
		}
		m.dirty = true
		return m, tick()

	case events.TaskOutputEvent:
		if task, ok := m.tasks[msg.Name]; ok {
			task.Output = append(task.Output, msg.Line)
			m.dirty = true
		}
		return m, tick()

	case events.TaskFinishedEvent:
		if task, ok := m.tasks[msg.Name]; ok {
			task.Status = msg.Status
			task.Detail = msg.Detail
			task.Duration = msg.Duration
			m.dirty = true
		}
		return m, tick()

	case tickMsg:
		if m.dirty {
			m.refreshViewport()
			m.dirty = false
		}
	}

	return m, nil
}

// refreshViewport rebuilds the viewport content from the selected task.
func (m *TaskPaneModel) refreshViewport() {
	if m.selected < 0 || m.selected >= len(m.taskOrder) {
		m.viewport.SetContent("")
		return
	}

	task := m.tasks[m.taskOrder[m.selected]]
	var b strings.Builder
	for _, line := range task.Output {
		b.WriteString(line)
		b.WriteString("\n")
	}
	// Output lines already carry the diagnostics for failed tasks; the
	// detail is only shown when nothing was streamed.
	if task.Detail != "" && len(task.Output) == 0 {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(task.Detail))
		b.WriteString("\n")
	}

	wasAtBottom := m.viewport.AtBottom()
	m.viewport.SetContent(b.String())
	if wasAtBottom {
		m.viewport.GotoBottom()
	}
}

// statusIcon maps a task status to its list marker.
func statusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "success":
		return StyleStatusComplete.Render("✓")
	case "failure":
		return StyleStatusFailed.Render("✗")
	case "timed_out":
		return StyleStatusTimedOut.Render("◷")
	default:
		return StyleStatusPending.Render("○")
	}
}

// renderTaskList renders the task list portion of the pane.
func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Build Tasks")
	b.WriteString(title)
	b.WriteString("\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("waiting for tasks..."))
		b.WriteString("\n")
		return b.String()
	}

	for i, name := range m.taskOrder {
		task := m.tasks[name]
		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}

		line := fmt.Sprintf("%s%s %s", cursor, statusIcon(task.Status), task.Name)
		if task.Duration > 0 {
			line += StyleStatusPending.Render(fmt.Sprintf("  %s", task.Duration.Round(time.Second)))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	list := m.renderTaskList()
	output := m.viewport.View()

	content := lipgloss.JoinVertical(lipgloss.Left, list, output)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions. The task list gets one line per
// task plus the title; the viewport takes the rest.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h

	listHeight := len(m.taskOrder) + 2
	if listHeight > h/2 {
		listHeight = h / 2
	}

	m.viewport.Width = w - 4
	m.viewport.Height = h - listHeight - 4
	if m.viewport.Height < 1 {
		m.viewport.Height = 1
	}
	m.refreshViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
