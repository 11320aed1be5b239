package ui

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/skarch/logpanel/internal/classify"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestStyleLine_PlainText(t *testing.T) {
	tests := []struct {
		name string
		line logbuf.Line
	}{
		{name: "stdout", line: logbuf.Line{Text: "listening on 3000", Source: logbuf.Stdout}},
		{name: "error", line: logbuf.Line{Text: "ERROR: db timeout", Source: logbuf.Stderr}},
		{name: "system", line: logbuf.Line{Text: "▶ Starting web-1", Source: logbuf.System}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.line.Text, StyleLine(tt.line))
		})
	}
}

func TestStyleLine_Colors(t *testing.T) {
	lipgloss.SetColorProfile(termenv.ANSI256)
	defer DisableColors()

	plain := StyleLine(logbuf.Line{Text: "ok", Source: logbuf.Stdout})
	errLine := StyleLine(logbuf.Line{Text: "[ERROR] boom", Source: logbuf.Stderr})
	sysLine := StyleLine(logbuf.Line{Text: "Connected to web-1", Source: logbuf.System})
	sysErr := StyleLine(logbuf.Line{Text: "✗ Start failed", Source: logbuf.System})

	assert.Equal(t, "ok", plain)
	assert.NotEqual(t, "[ERROR] boom", errLine)
	assert.Equal(t, LevelStyle(classify.Error).Render("[ERROR] boom"), errLine)
	assert.Equal(t, systemLineStyle.Render("Connected to web-1"), sysLine)
	assert.Equal(t, LevelStyle(classify.Error).Render("✗ Start failed"), sysErr, "errors win over system styling")
}

func TestStyleLineWithTime(t *testing.T) {
	l := logbuf.Line{Text: "hello", Time: time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC)}
	assert.Equal(t, "13:04:05 hello", StyleLineWithTime(l))
}

func TestStyleNotification(t *testing.T) {
	assert.Equal(t, "✗ Connection failed", StyleNotification(session.Notification{Level: session.NotifyError, Message: "Connection failed"}))
	assert.Equal(t, "✓ web-1 started", StyleNotification(session.Notification{Level: session.NotifyInfo, Message: "web-1 started"}))
}

func TestStateBadge(t *testing.T) {
	tests := []struct {
		state session.State
		want  string
	}{
		{session.Running, "● running"},
		{session.Connected, "● connected"},
		{session.Connecting, "◐ connecting"},
		{session.Stopping, "◐ stopping"},
		{session.Idle, "○ idle"},
		{session.Disconnected, "○ disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StateBadge(tt.state))
		})
	}
}
