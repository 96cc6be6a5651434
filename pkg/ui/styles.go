package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accent  = lipgloss.Color("#00AFD7")
	gold    = lipgloss.Color("#D7AF00")
	green   = lipgloss.Color("#5FD75F")
	orange  = lipgloss.Color("#FF8700")
	red     = lipgloss.Color("#FF5F5F")
	dimGrey = lipgloss.Color("#8A8A8A")
)

// Theme is the set of styles bound to one renderer.
type Theme struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Border  lipgloss.Style
}

func newTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Title: r.NewStyle().
			Foreground(accent).
			Bold(true),
		Label: r.NewStyle().
			Foreground(accent),
		Value: r.NewStyle().
			Foreground(gold),
		Success: r.NewStyle().
			Foreground(green).
			Bold(true),
		Warning: r.NewStyle().
			Foreground(orange).
			Bold(true),
		Error: r.NewStyle().
			Foreground(red).
			Bold(true),
		Dim: r.NewStyle().
			Foreground(dimGrey).
			Faint(true),
		Header: r.NewStyle().
			Foreground(accent).
			Bold(true).
			Padding(0, 1),
		Cell: r.NewStyle().
			Padding(0, 1),
		Border: r.NewStyle().
			Foreground(dimGrey),
	}
}
