package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// SetColor switches styled output off when enabled is false.
func SetColor(enabled bool) {
	if !enabled {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func gradeStyle(grade string) lipgloss.Style {
	switch grade {
	case "S", "A":
		return StyleSuccess
	case "B", "C":
		return StyleWarning
	default:
		return StyleError
	}
}

// ScoreTable renders scores best first.
func ScoreTable(scores []evaluation.Score) string {
	ranked := evaluation.Rank(scores)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		Headers("#", "PROVIDER", "SIMILARITY", "CER", "WER", "GRADE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleHeaderCell
			}
			return StyleCell
		})

	for i, s := range ranked {
		t.Row(
			strconv.Itoa(i+1),
			s.ProviderID,
			fmt.Sprintf("%.1f%%", s.Similarity),
			fmt.Sprintf("%.3f", s.CER),
			fmt.Sprintf("%.3f", s.WER),
			gradeStyle(s.Grade).Render(s.Grade),
		)
	}
	return t.String()
}

// Report renders a finished session: per-provider text and errors, then
// the score table when a reference was given.
func Report(res session.Result) string {
	var b strings.Builder
	b.WriteString(StyleHeader.Render("Session " + res.Metadata.SessionID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", StyleLabel.Render("Language:"), res.Metadata.Language)
	if !res.Metadata.EndedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", StyleLabel.Render("Duration:"),
			res.Metadata.EndedAt.Sub(res.Metadata.StartedAt).Round(100*time.Millisecond))
	}

	ids := make([]string, 0, len(res.Providers))
	for id := range res.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pr := res.Providers[id]
		b.WriteString("\n")
		b.WriteString(StyleHighlight.Render(id))
		b.WriteString("\n")
		if pr.FullText == "" {
			b.WriteString(StyleMuted.Render("  (no transcript)"))
		} else {
			b.WriteString("  " + pr.FullText)
		}
		b.WriteString("\n")
		for _, e := range pr.Errors {
			fmt.Fprintf(&b, "  %s\n", StyleError.Render(fmt.Sprintf("%s: %s", e.Code, e.Message)))
		}
	}

	if len(res.Scores) > 0 {
		b.WriteString("\n")
		b.WriteString(ScoreTable(res.Scores))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatEvent renders one live feed event as a single line.
func FormatEvent(ev transcriber.Event) string {
	prefix := StyleHighlight.Render("[" + ev.ProviderID + "]")
	switch {
	case ev.IsError():
		return fmt.Sprintf("%s %s", prefix, StyleError.Render(fmt.Sprintf("%s: %s", ev.Error.Code, ev.Error.Message)))
	case ev.IsFinal:
		line := fmt.Sprintf("%s %s", prefix, ev.Text)
		if ev.Speaker != "" {
			line = fmt.Sprintf("%s (%s) %s", prefix, ev.Speaker, ev.Text)
		}
		if ev.LatencyMs > 0 {
			line += " " + StyleSubtle.Render(fmt.Sprintf("%dms", ev.LatencyMs))
		}
		return line
	default:
		return fmt.Sprintf("%s %s", prefix, StyleMuted.Render(ev.Text+"…"))
	}
}
