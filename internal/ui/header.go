package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/session"
)

// HeaderInfo is what the console shows above the log view.
type HeaderInfo struct {
	Version string
	Server  string // label, e.g. "web-1 (deploy@10.0.0.5:22)"
	Command string
	State   session.State
	Width   int
}

// HeaderWidth is the default width of the header divider.
const HeaderWidth = 50

// RenderHeader renders "logpanel <version>", the server line with its
// state badge, the start command and a divider.
func RenderHeader(info HeaderInfo) string {
	title := lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	muted := lipgloss.NewStyle().Foreground(ColorMuted)

	width := info.Width
	if width <= 0 {
		width = HeaderWidth
	}

	var out strings.Builder
	out.WriteString(title.Render("logpanel"))
	if info.Version != "" {
		out.WriteString(" " + muted.Render(info.Version))
	}
	out.WriteString("\n")

	out.WriteString(info.Server + "  " + StateBadge(info.State) + "\n")
	if info.Command != "" {
		out.WriteString(muted.Render("$ "+info.Command) + "\n")
	}
	out.WriteString(muted.Render(strings.Repeat("━", width)))
	return out.String()
}
