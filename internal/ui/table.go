package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/session"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a Bubbles table with the panel styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{Title: c.Title, Width: c.Width}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.Foreground(ColorPrimary)
	s.Selected = s.Selected.Foreground(ColorPrimary).Bold(false)
	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}
	return NewTable(columns, tableRows).View()
}

// ServerRow is one server with its live status, if it has a session.
type ServerRow struct {
	Server config.Server
	Status *session.Status
}

// RenderServerTable renders the server list as aligned text columns:
// id, name, type, target, OS and state.
func RenderServerTable(rows []ServerRow) string {
	if len(rows) == 0 {
		return ""
	}

	headers := []string{"ID", "NAME", "TYPE", "TARGET", "OS", "STATE"}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		target := r.Server.User + "@" + r.Server.Address()
		if r.Server.IsLocal() {
			target = r.Server.WorkingDirectory
		}
		state := StateBadge(session.Idle)
		if r.Status != nil {
			state = StateBadge(r.Status.State)
		}
		cells[i] = []string{
			fmt.Sprint(r.Server.ID),
			r.Server.Name,
			string(r.Server.Type),
			target,
			string(r.Server.OS),
			state,
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range cells {
		for i, c := range row {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(ColorMuted)
	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(header.Render(padRight(h, widths[i])))
		if i < len(headers)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")
	for _, row := range cells {
		for i, c := range row {
			if i < len(row)-1 {
				sb.WriteString(padRight(c, widths[i]) + "  ")
			} else {
				sb.WriteString(c)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// padRight pads a string to the specified visible width.
func padRight(s string, width int) string {
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
