package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/voicelock/voicelock/pkg/verify"
)

var (
	acceptStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	rejectStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f56"))
	inconclusiveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffbd2e"))
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6e7681"))
)

func renderDecision(d verify.Decision) string {
	switch d {
	case verify.DecisionAccept:
		return acceptStyle.Render("ACCEPT")
	case verify.DecisionReject:
		return rejectStyle.Render("REJECT")
	default:
		return inconclusiveStyle.Render("INCONCLUSIVE")
	}
}

// renderTable prints a left-aligned column table with a styled header
// row.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range header {
		b.WriteString(headerStyle.Render(pad(h, widths[i])))
		if i < len(header)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteByte('\n')
	for _, row := range rows {
		for i, cell := range row {
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func pad(s string, w int) string {
	return fmt.Sprintf("%-*s", w, s)
}
