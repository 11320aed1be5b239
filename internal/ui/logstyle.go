package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/classify"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/session"
)

var (
	errorLineStyle  = lipgloss.NewStyle().Foreground(ColorError)
	warnLineStyle   = lipgloss.NewStyle().Foreground(ColorWarning)
	systemLineStyle = lipgloss.NewStyle().Foreground(ColorInfo)
	mutedStyle      = lipgloss.NewStyle().Foreground(ColorMuted)
)

// LevelStyle returns the style for a classify level.
func LevelStyle(level classify.Level) lipgloss.Style {
	switch level {
	case classify.Error:
		return errorLineStyle
	case classify.Warning:
		return warnLineStyle
	default:
		return lipgloss.NewStyle()
	}
}

// StyleLine colors a log line by its level. System lines that are not
// errors or warnings use the info color.
func StyleLine(l logbuf.Line) string {
	level := l.Level()
	if level == classify.Normal && l.Source == logbuf.System {
		return systemLineStyle.Render(l.Text)
	}
	return LevelStyle(level).Render(l.Text)
}

// StyleLineWithTime prefixes the styled line with a muted HH:MM:SS stamp.
func StyleLineWithTime(l logbuf.Line) string {
	return mutedStyle.Render(l.Time.Format("15:04:05")) + " " + StyleLine(l)
}

// StyleNotification renders a session notification.
func StyleNotification(n session.Notification) string {
	if n.Level == session.NotifyError {
		return errorLineStyle.Render(SymbolFail + " " + n.Message)
	}
	return lipgloss.NewStyle().Foreground(ColorSuccess).Render(SymbolSuccess + " " + n.Message)
}

// StateBadge renders a session state with a colored symbol.
func StateBadge(st session.State) string {
	var symbol string
	var color lipgloss.Color
	switch st {
	case session.Running:
		symbol, color = SymbolComplete, ColorSuccess
	case session.Connected:
		symbol, color = SymbolComplete, ColorInfo
	case session.Connecting, session.Starting, session.Stopping:
		symbol, color = SymbolProgress, ColorWarning
	default:
		symbol, color = SymbolPending, ColorMuted
	}
	return lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%s %s", symbol, st))
}
