package console

import (
	stderrors "errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/session"
)

// Run shows the console for sess until the user quits. The session keeps
// its state afterwards; the caller decides whether to stop it.
func Run(sess *session.Session, opts Options, in io.Reader, out io.Writer) error {
	m := New(sess, opts)
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(m.ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.Close()
	} else {
		m.Close()
	}
	if err != nil && !stderrors.Is(err, tea.ErrProgramKilled) {
		return errors.WrapWithCode(err, errors.ErrSession, "Console failed", "Check that the terminal supports full-screen programs.")
	}
	return nil
}
