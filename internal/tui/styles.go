package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette. Build statuses get one color each; timed-out builds are
// visually distinct from plain failures so operators can tell a slow
// build from a broken one at a glance.
var (
	colorAccent   = lipgloss.Color("39")  // focused chrome
	colorInactive = lipgloss.Color("240") // unfocused chrome, pending tasks
	colorRunning  = lipgloss.Color("214")
	colorSuccess  = lipgloss.Color("42")
	colorFailure  = lipgloss.Color("196")
	colorTimedOut = lipgloss.Color("208")
	colorHelp     = lipgloss.Color("245")
)

var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorAccent)

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorInactive)

	StyleStatusRunning = lipgloss.NewStyle().Foreground(colorRunning)

	StyleStatusComplete = lipgloss.NewStyle().Foreground(colorSuccess)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(colorFailure).
				Bold(true)

	StyleStatusTimedOut = lipgloss.NewStyle().
				Foreground(colorTimedOut).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().Foreground(colorInactive)

	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().Foreground(colorHelp)
)
