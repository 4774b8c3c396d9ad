package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("62")
	colorSecondary = lipgloss.Color("241")
	colorHighlight = lipgloss.Color("212")
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255"))

var selectedStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

var normalStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Padding(0, 1)

var metaStyle = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Padding(0, 1)

var headingStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight).
	MarginTop(1)

var statusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

var statusKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

var errorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("196")).
	Bold(true).
	Padding(0, 1)

var helpStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")).
	Padding(1, 2)
