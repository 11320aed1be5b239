package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/ui"
)

// Fixed rows around the viewport: tabs, metrics, status and footer.
const chromeRows = 4

var (
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(ui.ColorSecondary)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(ui.ColorMuted)
	selectedStyle    = lipgloss.NewStyle().Bold(true)
	footerStyle      = lipgloss.NewStyle().Foreground(ui.ColorMuted)
)

// View renders the console.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderMetrics())
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	srv := m.sess.Server()
	return ui.RenderHeader(ui.HeaderInfo{
		Version: m.opts.Version,
		Server:  srv.Label(),
		Command: srv.StartCommand,
		State:   m.status.State,
		Width:   m.width,
	})
}

func (m Model) renderTabs() string {
	tabs := []Tab{TabLogs, TabErrors, TabAnalysis}
	parts := make([]string, len(tabs))
	for i, t := range tabs {
		label := t.String()
		if t == TabErrors {
			label = fmt.Sprintf("%s (%d)", label, len(m.errorLines()))
		}
		if t == m.tab {
			parts[i] = activeTabStyle.Render("[" + label + "]")
		} else {
			parts[i] = inactiveTabStyle.Render(" " + label + " ")
		}
	}
	out := strings.Join(parts, " ")
	if m.tab == TabLogs && !m.follow {
		out += inactiveTabStyle.Render("  (paused, f to follow)")
	}
	return out
}

func (m Model) renderMetrics() string {
	live := m.status.Connected && m.status.HasMetrics
	out := ui.RenderMetrics(m.status.Metrics, live, 10)
	if live {
		out += "  " + ui.RenderSparkline(m.cpu.Values(), 20)
	}
	return out
}

func (m Model) renderStatusLine() string {
	parts := []string{}
	if v := m.activity.View(); v != "" {
		parts = append(parts, v)
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	if m.closed {
		parts = append(parts, footerStyle.Render("(feed closed)"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderFooter() string {
	if m.inputMode {
		return m.input.View()
	}
	return footerStyle.Render(helpHint())
}

// layout sizes the viewport to the space left by the header and chrome.
func (m *Model) layout() {
	headerRows := lipgloss.Height(m.renderHeader())
	h := m.height - headerRows - chromeRows
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.input.Width = m.width - 4
	m.refresh()
}

// refresh rebuilds the viewport content for the active tab.
func (m *Model) refresh() {
	m.viewport.SetContent(m.content())
	if m.tab == TabLogs && m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) content() string {
	switch m.tab {
	case TabErrors:
		errs := m.errorLines()
		if len(errs) == 0 {
			return footerStyle.Render("No errors.")
		}
		rows := make([]string, len(errs))
		for i, l := range errs {
			if i == m.selected {
				rows[i] = selectedStyle.Render("› ") + ui.StyleLineWithTime(l)
			} else {
				rows[i] = "  " + ui.StyleLineWithTime(l)
			}
		}
		return strings.Join(rows, "\n")

	case TabAnalysis:
		if m.analysis.LogText == "" {
			return footerStyle.Render("Select an error line and press a to analyze it.")
		}
		title := footerStyle.Render("Analysis of: ") + m.analysis.LogText
		if m.analysis.Cached {
			title += footerStyle.Render(" (cached, r to refresh)")
		}
		body := lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(m.analysis.Text)
		return title + "\n\n" + body

	default:
		rows := make([]string, len(m.lines))
		for i, l := range m.lines {
			rows[i] = ui.StyleLineWithTime(l)
		}
		return strings.Join(rows, "\n")
	}
}
