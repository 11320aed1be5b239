package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/errors"
)

// SpinnerFrames is the animation used inside Bubble Tea programs.
var SpinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// Activity shows the operation a console is waiting on (connect, start,
// stop) and how the last one ended. It is meant to be embedded in a larger
// model.
type Activity struct {
	spinner spinner.Model
	label   string
	state   SpinnerState
	detail  string
	started time.Time
}

// NewActivity returns an idle activity indicator.
func NewActivity() Activity {
	sp := spinner.New()
	sp.Spinner = SpinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)
	return Activity{spinner: sp}
}

// Begin marks label as in progress and returns the first tick.
func (a *Activity) Begin(label string) tea.Cmd {
	a.label = label
	a.state = SpinnerInProgress
	a.detail = ""
	a.started = time.Now()
	return a.spinner.Tick
}

// End records the outcome of the current operation.
func (a *Activity) End(err error) {
	if err != nil {
		a.state = SpinnerFailed
		a.detail = errors.Summary(err)
		return
	}
	a.state = SpinnerSuccess
	a.detail = ""
}

// Busy reports whether an operation is in progress.
func (a Activity) Busy() bool {
	return a.state == SpinnerInProgress
}

// State returns the indicator state.
func (a Activity) State() SpinnerState {
	return a.state
}

// Update advances the animation while busy.
func (a Activity) Update(msg tea.Msg) (Activity, tea.Cmd) {
	if a.state != SpinnerInProgress {
		return a, nil
	}
	if tick, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(tick)
		return a, cmd
	}
	return a, nil
}

// View renders the indicator, or nothing before the first operation.
func (a Activity) View() string {
	switch a.state {
	case SpinnerInProgress:
		return a.spinner.View() + " " + a.label + "..."
	case SpinnerSuccess:
		return a.viewFinal(SymbolSuccess, ColorSuccess)
	case SpinnerFailed:
		out := a.viewFinal(SymbolFail, ColorError)
		if a.detail != "" {
			out += " " + lipgloss.NewStyle().Foreground(ColorError).Render(a.detail)
		}
		return out
	default:
		return ""
	}
}

func (a Activity) viewFinal(symbol string, color lipgloss.Color) string {
	timing := lipgloss.NewStyle().Foreground(ColorMuted).Render(FormatDuration(time.Since(a.started)))
	return lipgloss.NewStyle().Foreground(color).Render(symbol) + " " + a.label + " " + timing
}
