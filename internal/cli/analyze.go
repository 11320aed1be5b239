package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/panel"
	"github.com/skarch/logpanel/internal/ui"
)

type analyzeOptions struct {
	stdin    bool
	refresh  bool
	question string
}

// analyzeCommand explains a log line and optionally asks one follow-up.
// A failed analysis is printed to stderr and exits 1.
func analyzeCommand(ctx context.Context, args []string, opts analyzeOptions, in io.Reader, stdout, stderr io.Writer) error {
	logText := strings.TrimSpace(strings.Join(args[1:], " "))
	if opts.stdin {
		data, err := io.ReadAll(in)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrAnalysis, "Failed to read stdin", "")
		}
		logText = strings.TrimSpace(string(data))
	}
	if logText == "" {
		return errors.New(errors.ErrAnalysis, "Nothing to analyze",
			"Pass the log line as an argument or pipe it in with --stdin.")
	}

	return withApp(ctx, func(a *app) error {
		s, err := a.panel.FindServer(args[0])
		if err != nil {
			return err
		}

		result, err := withSpinner(stderr, "Analyzing with "+a.cfg.Analysis.Model, func() (panel.Analysis, error) {
			return a.panel.Analyze(ctx, s.ID, logText, opts.refresh)
		})
		if err != nil {
			return err
		}
		if !result.Failed && opts.question != "" {
			result, err = withSpinner(stderr, "Asking a follow-up", func() (panel.Analysis, error) {
				return a.panel.FollowUp(ctx, s.ID, logText, result.Text, opts.question)
			})
			if err != nil {
				return err
			}
		}

		if machineMode {
			if err := WriteJSONSuccess(stdout, result); err != nil {
				return err
			}
		} else if result.Failed {
			fmt.Fprintln(stderr, ui.SymbolFail+" "+result.Text)
		} else {
			if result.Cached {
				fmt.Fprintln(stderr, lipgloss.NewStyle().Foreground(ui.ColorMuted).Render("(cached, use --refresh to ask again)"))
			}
			fmt.Fprintln(stdout, strings.TrimRight(result.Text, "\n"))
		}

		if result.Failed {
			return errors.NewExitError(1)
		}
		return nil
	})
}

// withSpinner shows a spinner on w while fn runs, when w is an interactive
// terminal and output is for humans.
func withSpinner(w io.Writer, label string, fn func() (panel.Analysis, error)) (panel.Analysis, error) {
	if machineMode || !isTerminalWriter(w) {
		return fn()
	}
	sp := ui.NewSpinner(label)
	sp.SetOutput(func(s string) { fmt.Fprint(w, s) })
	sp.Start()
	result, err := fn()
	switch {
	case err != nil:
		sp.Finish(err)
	case result.Failed:
		sp.Fail()
	default:
		sp.Success()
	}
	return result, err
}
