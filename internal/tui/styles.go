package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	StyleHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).MarginBottom(1)
	StyleLabel  = lipgloss.NewStyle().Bold(true).Foreground(ColorText)

	StyleSuccess = lipgloss.NewStyle().Foreground(ColorGood)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorFair)
	StyleError   = lipgloss.NewStyle().Foreground(ColorBad).Bold(true)

	StyleMuted     = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleSubtle    = lipgloss.NewStyle().Foreground(ColorSubtle).Italic(true)
	StyleHighlight = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)

	// score table
	StyleCell       = lipgloss.NewStyle().Foreground(ColorText).Padding(0, 1)
	StyleHeaderCell = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Padding(0, 1)
)

const logoASCII = `
     _   _   _                     _     
 ___| |_| |_| |__   ___ _ __   ___| |__  
/ __| __| __| '_ \ / _ \ '_ \ / __| '_ \ 
\__ \ |_| |_| |_) |  __/ | | | (__| | | |
|___/\__|\__|_.__/ \___|_| |_|\___|_| |_|`

// Logo returns the sttbench banner with a one-line tagline.
func Logo() string {
	banner := StyleHeader.UnsetMarginBottom().Render(strings.Trim(logoASCII, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, banner, StyleMuted.Render("  speech-to-text provider benchmark"))
}
