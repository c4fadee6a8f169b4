// Package styles holds the lipgloss palette shared by the live view, the
// banner and the conformance report.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorAccent = lipgloss.Color("#7D56F4")
	ColorOK     = lipgloss.Color("#04B575")
	ColorFail   = lipgloss.Color("#FF5F87")
	ColorWarn   = lipgloss.Color("#FFAF00")
	ColorMuted  = lipgloss.Color("#767676")
	ColorFrame  = lipgloss.Color("#3C3C3C")
	ColorBanner = ColorOK
)

var (
	Title = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(ColorMuted)

	Subtle = lipgloss.NewStyle().Foreground(ColorMuted)
	Value  = lipgloss.NewStyle().Foreground(ColorOK).Bold(true)
	Active = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	Warn   = lipgloss.NewStyle().Foreground(ColorWarn)
	Error  = lipgloss.NewStyle().Foreground(ColorFail)

	// Check outcomes.
	Pass = lipgloss.NewStyle().Foreground(ColorOK)
	Fail = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	Note = Subtle

	// Panel around one live metric.
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorFrame).
		Padding(0, 1).
		Margin(0, 1)
)

// Level picks a style for a counter that should stay at zero, such as
// reconnects or missing messages.
func Level(n uint64) lipgloss.Style {
	switch {
	case n == 0:
		return Value
	case n < 10:
		return Warn
	}
	return Error
}

// RenderKey renders a key binding hint like "<q> quit".
func RenderKey(key, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Render("<"+key+">"),
		" ",
		Subtle.Render(desc),
	)
}
