package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/skarch/logpanel/internal/classify"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/panel"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/ui"
)

// Defaults for Options fields left zero.
const (
	DefaultFeedSize    = 1024
	DefaultHistorySize = 60
)

// Options configures a console Model.
type Options struct {
	Context context.Context
	Version string

	// Analyze and FollowUp back the Analysis tab. Nil disables it.
	Analyze  func(ctx context.Context, logText string, refresh bool) (panel.Analysis, error)
	FollowUp func(ctx context.Context, logText, previous, question string) (panel.Analysis, error)

	// RemoveLine deletes lines by text. Defaults to the session's own
	// RemoveLine; the panel version also drops the cached analysis.
	RemoveLine func(text string) int

	FeedSize    int
	HistorySize int
}

// Model is the Bubble Tea model for one session console.
type Model struct {
	sess *session.Session
	opts Options
	ctx  context.Context

	sub      *session.Subscription
	status   session.Status
	lines    []logbuf.Line
	maxLines int
	closed   bool

	cpu *ui.History
	ram *ui.History

	tab      Tab
	selected int // index into errorLines()
	follow   bool

	analysis panel.Analysis

	notice   string
	activity ui.Activity

	input     textinput.Model
	inputMode bool

	viewport viewport.Model
	width    int
	height   int
	showHelp bool
	quitting bool
}

// eventMsg carries one session event.
type eventMsg struct {
	sub *session.Subscription
	ev  session.Event
}

// feedClosedMsg reports that a subscription ended.
type feedClosedMsg struct {
	sub    *session.Subscription
	lagged bool
}

// opDoneMsg reports the end of a session operation.
type opDoneMsg struct {
	label string
	err   error
}

// inputSentMsg reports the result of writing to the process stdin.
type inputSentMsg struct {
	err error
}

// analysisMsg carries an analysis or follow-up answer.
type analysisMsg struct {
	result panel.Analysis
	err    error
}

// New subscribes to sess and returns a console showing its snapshot.
// Call Close when the program ends.
func New(sess *session.Session, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.FeedSize <= 0 {
		opts.FeedSize = DefaultFeedSize
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.RemoveLine == nil {
		opts.RemoveLine = sess.RemoveLine
	}

	in := textinput.New()
	in.Prompt = ui.SymbolInput + " "
	in.CharLimit = 4096

	m := Model{
		sess:     sess,
		opts:     opts,
		ctx:      opts.Context,
		maxLines: sess.Buffer().Capacity(),
		cpu:      ui.NewHistory(opts.HistorySize),
		ram:      ui.NewHistory(opts.HistorySize),
		follow:   true,
		activity: ui.NewActivity(),
		input:    in,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
	m.subscribe()
	m.layout()
	return m
}

// Close ends the event subscription.
func (m Model) Close() {
	if m.sub != nil {
		m.sub.Close()
	}
}

// Init starts reading the event feed.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.sub)
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		handled, cmd := m.HandleKeyMsg(msg)
		if handled {
			return m, cmd
		}
		var vcmd tea.Cmd
		m.viewport, vcmd = m.viewport.Update(msg)
		return m, vcmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case eventMsg:
		if msg.sub != m.sub {
			return m, nil
		}
		m.apply(msg.ev)
		return m, waitForEvent(m.sub)

	case feedClosedMsg:
		if msg.sub != m.sub {
			return m, nil
		}
		if msg.lagged {
			m.subscribe()
			m.notice = "Fell behind the log feed; resynced"
			return m, waitForEvent(m.sub)
		}
		m.closed = true
		m.notice = "Session closed"

	case opDoneMsg:
		m.activity.End(msg.err)

	case inputSentMsg:
		if msg.err != nil {
			m.notice = ui.StyleNotification(session.Notification{Level: session.NotifyError, Message: errors.Summary(msg.err)})
		}

	case analysisMsg:
		err := msg.err
		if err == nil && msg.result.Failed {
			err = errors.New(errors.ErrAnalysis, strings.TrimPrefix(msg.result.Text, panel.FailedPrefix), "")
		}
		m.activity.End(err)
		if msg.err == nil {
			m.analysis = msg.result
			m.tab = TabAnalysis
			m.refresh()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.activity, cmd = m.activity.Update(msg)
		return m, cmd
	}

	return m, nil
}

// subscribe replaces the current subscription with a fresh one and
// rebuilds the view from its snapshot.
func (m *Model) subscribe() {
	if m.sub != nil {
		m.sub.Close()
	}
	status, lines, sub := m.sess.Subscribe(m.opts.FeedSize)
	m.sub = sub
	m.status = status
	m.lines = lines
	m.closed = false
	if status.HasMetrics && status.Connected {
		m.cpu.Add(status.Metrics.CPUPercent)
		m.ram.Add(status.Metrics.RAMPercent)
	}
	m.clampSelection()
	m.refresh()
}

func waitForEvent(sub *session.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C
		if !ok {
			return feedClosedMsg{sub: sub, lagged: sub.Lagged()}
		}
		return eventMsg{sub: sub, ev: ev}
	}
}

func (m *Model) apply(ev session.Event) {
	switch ev.Kind {
	case session.EventLog:
		if ev.Line == nil {
			return
		}
		m.lines = append(m.lines, *ev.Line)
		if m.maxLines > 0 && len(m.lines) > m.maxLines {
			m.lines = m.lines[len(m.lines)-m.maxLines:]
		}
		m.clampSelection()
		m.refresh()

	case session.EventState:
		if ev.Status == nil {
			return
		}
		m.status = *ev.Status
		if !m.status.Connected {
			m.cpu.Reset()
			m.ram.Reset()
		}

	case session.EventMetrics:
		if ev.Metrics == nil {
			return
		}
		m.status.Metrics = *ev.Metrics
		m.status.HasMetrics = true
		m.cpu.Add(ev.Metrics.CPUPercent)
		m.ram.Add(ev.Metrics.RAMPercent)

	case session.EventNotification:
		if ev.Notification != nil {
			m.notice = ui.StyleNotification(*ev.Notification)
		}
	}
}

// runOp runs a blocking session operation in the background.
func (m *Model) runOp(label string, op func(context.Context) error) tea.Cmd {
	if m.activity.Busy() {
		m.notice = "Still working on the previous operation"
		return nil
	}
	ctx := m.ctx
	return tea.Batch(m.activity.Begin(label), func() tea.Msg {
		return opDoneMsg{label: label, err: op(ctx)}
	})
}

func (m *Model) sendInput(text string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return inputSentMsg{err: sess.SendInput(text)}
	}
}

// errorLines returns the error feed from the local copy of the log.
func (m Model) errorLines() []logbuf.Line {
	var out []logbuf.Line
	for _, l := range m.lines {
		if l.Level() == classify.Error {
			out = append(out, l)
		}
	}
	return out
}

// selectedLine is the line analysis and removal act on: the selected error
// on the Errors tab, otherwise the most recent error.
func (m Model) selectedLine() (logbuf.Line, bool) {
	errs := m.errorLines()
	if len(errs) == 0 {
		return logbuf.Line{}, false
	}
	if m.tab == TabErrors && m.selected < len(errs) {
		return errs[m.selected], true
	}
	return errs[len(errs)-1], true
}

func (m *Model) clampSelection() {
	n := len(m.errorLines())
	if m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *Model) analyzeSelected(refresh bool) tea.Cmd {
	if m.opts.Analyze == nil {
		m.notice = "Analysis is not configured"
		return nil
	}
	line, ok := m.selectedLine()
	if !ok {
		m.notice = "No error lines to analyze"
		return nil
	}
	if m.activity.Busy() {
		m.notice = "Still working on the previous operation"
		return nil
	}

	ctx, analyze := m.ctx, m.opts.Analyze
	return tea.Batch(m.activity.Begin("Analyzing"), func() tea.Msg {
		a, err := analyze(ctx, line.Text, refresh)
		return analysisMsg{result: a, err: err}
	})
}

func (m *Model) followUp(question string) tea.Cmd {
	if strings.TrimSpace(question) == "" {
		return nil
	}
	if m.opts.FollowUp == nil || m.analysis.LogText == "" {
		m.notice = "Analyze an error line first"
		return nil
	}

	ctx, ask, prev := m.ctx, m.opts.FollowUp, m.analysis
	return tea.Batch(m.activity.Begin("Asking"), func() tea.Msg {
		a, err := ask(ctx, prev.LogText, prev.Text, question)
		return analysisMsg{result: a, err: err}
	})
}

func (m *Model) removeSelected() {
	if m.tab != TabErrors {
		return
	}
	line, ok := m.selectedLine()
	if !ok {
		return
	}
	n := m.opts.RemoveLine(line.Text)

	kept := m.lines[:0:0]
	for _, l := range m.lines {
		if l.Text != line.Text {
			kept = append(kept, l)
		}
	}
	m.lines = kept
	if m.analysis.LogText == line.Text {
		m.analysis = panel.Analysis{}
	}
	m.notice = fmt.Sprintf("Removed %d line(s)", n)
	m.clampSelection()
	m.refresh()
}

// Status returns the last known session status.
func (m Model) Status() session.Status {
	return m.status
}

// Tab returns the active tab.
func (m Model) Tab() Tab {
	return m.tab
}
