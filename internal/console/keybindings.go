package console

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Tab selects what the main pane shows.
type Tab int

const (
	TabLogs Tab = iota
	TabErrors
	TabAnalysis
)

func (t Tab) String() string {
	switch t {
	case TabErrors:
		return "Errors"
	case TabAnalysis:
		return "Analysis"
	default:
		return "Logs"
	}
}

// Next cycles to the following tab.
func (t Tab) Next() Tab {
	return Tab((int(t) + 1) % 3)
}

// Key bindings as constants for consistency.
const (
	KeyQuit       = "q"
	KeyQuitAlt    = "ctrl+c"
	KeyConnect    = "c"
	KeyStart      = "s"
	KeyStop       = "x"
	KeyDisconnect = "d"
	KeyInput      = "i"
	KeyNextTab    = "tab"
	KeyAnalyze    = "a"
	KeyReanalyze  = "r"
	KeyRemove     = "delete"
	KeyFollow     = "f"
	KeyUp         = "up"
	KeyUpK        = "k"
	KeyDown       = "down"
	KeyDownJ      = "j"
	KeySubmit     = "enter"
	KeyCancel     = "esc"
	KeyToggleHelp = "?"
)

// HandleKeyMsg processes keyboard input. It returns false for keys the
// model does not bind, which are then passed to the viewport.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()

	if m.inputMode {
		return true, m.handleInputKey(msg)
	}

	if key == KeyToggleHelp {
		m.showHelp = !m.showHelp
		return true, nil
	}
	if m.showHelp && key == KeyCancel {
		m.showHelp = false
		return true, nil
	}

	switch key {
	case KeyQuit, KeyQuitAlt:
		m.quitting = true
		return true, tea.Quit

	case KeyConnect:
		return true, m.runOp("Connecting", m.sess.Connect)
	case KeyStart:
		return true, m.runOp("Starting", m.sess.Start)
	case KeyStop:
		return true, m.runOp("Stopping", m.sess.Stop)
	case KeyDisconnect:
		return true, m.runOp("Disconnecting", m.sess.Disconnect)

	case KeyInput:
		m.beginInput()
		return true, nil

	case KeyNextTab:
		m.tab = m.tab.Next()
		m.refresh()
		return true, nil

	case KeyAnalyze, KeyReanalyze:
		return true, m.analyzeSelected(key == KeyReanalyze)

	case KeyRemove:
		m.removeSelected()
		return true, nil

	case KeyFollow:
		m.follow = !m.follow
		if m.follow {
			m.viewport.GotoBottom()
		}
		return true, nil

	case KeyUp, KeyUpK:
		if m.tab == TabErrors {
			if m.selected > 0 {
				m.selected--
			}
			m.refresh()
			return true, nil
		}
		m.follow = false
	case KeyDown, KeyDownJ:
		if m.tab == TabErrors {
			if m.selected < len(m.errorLines())-1 {
				m.selected++
			}
			m.refresh()
			return true, nil
		}
	}
	return false, nil
}

func (m *Model) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case KeyQuitAlt:
		m.quitting = true
		return tea.Quit
	case KeyCancel:
		m.endInput()
		return nil
	case KeySubmit:
		text := m.input.Value()
		m.endInput()
		if m.tab == TabAnalysis {
			return m.followUp(text)
		}
		return m.sendInput(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) beginInput() {
	m.inputMode = true
	m.input.SetValue("")
	if m.tab == TabAnalysis {
		m.input.Placeholder = "Ask a follow-up question"
	} else {
		m.input.Placeholder = "Send a line to the process"
	}
	m.input.Focus()
}

func (m *Model) endInput() {
	m.inputMode = false
	m.input.Blur()
	m.input.SetValue("")
}

// helpHint is the one-line footer shown when not typing.
func helpHint() string {
	return strings.Join([]string{
		"c connect", "s start", "x stop", "d disconnect", "i input",
		"tab switch", "a analyze", "? help", "q quit",
	}, " · ")
}
