package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/ui"
)

// HelpBinding represents a single keyboard shortcut entry.
type HelpBinding struct {
	Key  string
	Desc string
}

var helpBindings = []HelpBinding{
	{Key: "c", Desc: "Connect"},
	{Key: "s", Desc: "Start the process"},
	{Key: "x", Desc: "Stop the process"},
	{Key: "d", Desc: "Disconnect"},
	{Key: "i", Desc: "Send input / ask a follow-up"},
	{Key: "tab", Desc: "Next tab"},
	{Key: "up / k", Desc: "Select previous error"},
	{Key: "down / j", Desc: "Select next error"},
	{Key: "a", Desc: "Analyze selected error"},
	{Key: "r", Desc: "Analyze again, skipping the cache"},
	{Key: "Delete", Desc: "Remove selected error line"},
	{Key: "f", Desc: "Follow the log tail"},
	{Key: "q / Ctrl+C", Desc: "Quit"},
	{Key: "?", Desc: "Toggle this help"},
}

var (
	helpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.ColorSecondary).
			Padding(1, 2)

	helpTitleStyle = lipgloss.NewStyle().
			Foreground(ui.ColorSecondary).
			Bold(true).
			MarginBottom(1)

	helpKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Width(14)

	helpDescStyle = lipgloss.NewStyle().Foreground(ui.ColorMuted)
)

// renderHelpOverlay renders a centered box listing the shortcuts.
func (m Model) renderHelpOverlay() string {
	lines := []string{helpTitleStyle.Render("Keyboard Shortcuts"), ""}
	for _, b := range helpBindings {
		lines = append(lines, helpKeyStyle.Render(b.Key)+helpDescStyle.Render(b.Desc))
	}
	lines = append(lines, "", helpDescStyle.Render("Press ? to close"))

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		helpBoxStyle.Render(strings.Join(lines, "\n")))
}
