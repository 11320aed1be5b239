package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"golang.org/x/term"
)

// serverItem implements list.Item for the Bubbles list component.
type serverItem struct {
	server config.Server
}

func (i serverItem) Title() string {
	return fmt.Sprintf("%s  #%d", i.server.Name, i.server.ID)
}

func (i serverItem) Description() string {
	parts := []string{string(i.server.Type)}
	if i.server.IsLocal() {
		parts = append(parts, i.server.WorkingDirectory)
	} else {
		parts = append(parts, i.server.User+"@"+i.server.Address())
	}
	if i.server.StartCommand != "" {
		parts = append(parts, i.server.StartCommand)
	}
	return strings.Join(parts, " | ")
}

func (i serverItem) FilterValue() string {
	return strings.Join([]string{i.server.Name, i.server.Host, i.server.StartCommand}, " ")
}

// ServerPickerModel is a Bubble Tea model for choosing a server.
type ServerPickerModel struct {
	list     list.Model
	selected *config.Server
	quitting bool
}

var pickerKeys = struct {
	Enter key.Binding
	Quit  key.Binding
}{
	Enter: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q/esc", "cancel")),
}

// NewServerPickerModel creates a picker over servers.
func NewServerPickerModel(servers []config.Server) ServerPickerModel {
	items := make([]list.Item, len(servers))
	for i, s := range servers {
		items[i] = serverItem{server: s}
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderForeground(ColorSecondary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(ColorMuted)

	l := list.New(items, delegate, 80, 15)
	l.Title = "Select a server"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Padding(0, 0, 1, 0)
	l.Styles.HelpStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	return ServerPickerModel{list: l}
}

// Init implements tea.Model.
func (m ServerPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ServerPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, pickerKeys.Enter):
			if item, ok := m.list.SelectedItem().(serverItem); ok {
				s := item.server
				m.selected = &s
			}
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, pickerKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ServerPickerModel) View() string {
	if m.quitting {
		return ""
	}
	return m.list.View()
}

// Selected returns the chosen server, or nil if cancelled.
func (m ServerPickerModel) Selected() *config.Server {
	return m.selected
}

// PickServer lets the user choose a server interactively. A single server
// is returned without asking; nil means the user cancelled.
func PickServer(servers []config.Server, output io.Writer, input io.Reader) (*config.Server, error) {
	if len(servers) == 0 {
		return nil, errors.New(errors.ErrConfig, "No servers registered",
			"Add one with 'logpanel server add'.")
	}
	if len(servers) == 1 {
		return &servers[0], nil
	}

	p := tea.NewProgram(NewServerPickerModel(servers), tea.WithOutput(output), tea.WithInput(input))
	final, err := p.Run()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Server picker failed",
			"Pass the server id or name as an argument instead.")
	}
	if m, ok := final.(ServerPickerModel); ok {
		return m.Selected(), nil
	}
	return nil, nil
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
