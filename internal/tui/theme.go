package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Adaptive palette: the first value is used on light terminals.
var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	ColorSecondary = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#A78BFA"}
	ColorText      = lipgloss.AdaptiveColor{Light: "#0F172A", Dark: "#F1F5F9"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#475569", Dark: "#94A3B8"}
	ColorSubtle    = lipgloss.AdaptiveColor{Light: "#94A3B8", Dark: "#64748B"}

	ColorGood = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"}
	ColorFair = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	ColorBad  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
)

// formTheme styles every huh form of the configure wizard.
func formTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(ColorPrimary)
	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.SelectSelector = lipgloss.NewStyle().Foreground(ColorSecondary).SetString("> ")
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSecondary)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(ColorText)
	t.Focused.ErrorMessage = lipgloss.NewStyle().Foreground(ColorBad)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(ColorPrimary)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderForeground(ColorSubtle)
	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorSubtle)

	return t
}
