package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/transport"
)

// execResult is what exec prints with --json.
type execResult struct {
	Server string `json:"server"`
	transport.Output
}

// execCommand runs a single command on a server. Output on stderr makes
// the command fail, matching how sessions report it.
func execCommand(ctx context.Context, args []string, timeout time.Duration, stdout, stderr io.Writer) error {
	if len(args) < 2 || strings.TrimSpace(strings.Join(args[1:], " ")) == "" {
		return errors.New(errors.ErrExec,
			"What should I run?",
			"Usage: logpanel exec <server> <command>  (e.g., logpanel exec web-1 \"df -h\")")
	}
	command := strings.Join(args[1:], " ")

	return withApp(ctx, func(a *app) error {
		s, err := a.panel.FindServer(args[0])
		if err != nil {
			return err
		}
		if timeout == 0 {
			timeout = a.cfg.Session.ExecTimeout
		}

		if err := a.panel.Connect(ctx, s.ID); err != nil {
			return err
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, runErr := a.panel.Execute(runCtx, s.ID, command)

		if machineMode {
			if runErr != nil && !errors.IsReason(runErr, errors.NonZeroStderr) {
				return runErr
			}
			if err := WriteJSONSuccess(stdout, execResult{Server: s.Name, Output: out}); err != nil {
				return err
			}
			return exitStatus(out, runErr)
		}

		fmt.Fprint(stdout, withNewline(out.Stdout))
		fmt.Fprint(stderr, withNewline(out.Stderr))
		if runErr != nil && !errors.IsReason(runErr, errors.NonZeroStderr) {
			return runErr
		}
		return exitStatus(out, runErr)
	})
}

// exitStatus maps a finished command onto the CLI's exit status.
func exitStatus(out transport.Output, runErr error) error {
	switch {
	case out.ExitCode > 0:
		return errors.NewExitError(out.ExitCode)
	case runErr != nil:
		return errors.NewExitError(1)
	default:
		return nil
	}
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
