package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/ui"
)

// runFeedSize is the subscription buffer for the follower. It is larger
// than the console's since a terminal can stall on a slow pipe.
const runFeedSize = 4096

// Markers the session writes around a run.
const (
	startMarker = "▶ Starting "
	exitMarker  = "■ Process exited"
)

// interruptContext is replaced in tests.
var interruptContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// runCommand starts the server's process and prints its output until it
// exits or the user interrupts.
func runCommand(ctx context.Context, args []string, timestamps bool, w io.Writer) error {
	return withApp(ctx, func(a *app) error {
		s, err := resolveServer(a, args)
		if err != nil {
			return err
		}
		sess, err := a.panel.Session(s.ID)
		if err != nil {
			return err
		}

		f := &follower{sess: sess, w: w, timestamps: timestamps}
		_, snapshot, sub := sess.Subscribe(runFeedSize)
		f.sub = sub
		defer func() { f.sub.Close() }()
		for _, l := range snapshot {
			f.lastSeq = l.Seq
		}

		if !s.IsLocal() {
			if err := a.panel.Connect(ctx, s.ID); err != nil {
				f.flush()
				return err
			}
		}
		if err := a.panel.Start(ctx, s.ID); err != nil {
			f.flush()
			return err
		}

		sigCtx, stop := interruptContext(ctx)
		defer stop()

		done, err := f.follow(sigCtx)
		if err != nil {
			return err
		}
		if !done {
			// Interrupted: stop the process and print what it wrote on the way out.
			stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.StopGrace+a.cfg.Session.ConnectTimeout)
			defer cancel()
			if err := a.panel.Stop(stopCtx, s.ID); err != nil {
				a.log.Warn("stopping %s: %s", s.Name, errors.Summary(err))
			}
			f.flush()
			return errors.NewExitError(130)
		}

		switch code := sess.Status().LastExitCode; {
		case code == 0:
			return nil
		case code < 0:
			return errors.NewExitError(1)
		default:
			return errors.NewExitError(code)
		}
	})
}

// follower prints a session's events as plain lines or NDJSON.
type follower struct {
	sess       *session.Session
	sub        *session.Subscription
	w          io.Writer
	timestamps bool
	lastSeq    uint64
	started    bool
	exited     bool
}

// follow prints events until the run ends (true) or ctx is cancelled
// (false).
func (f *follower) follow(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-f.sub.C:
			if !ok {
				if err := f.resubscribe(); err != nil {
					return false, err
				}
				if f.exited && !f.sess.Running() {
					return true, nil
				}
				continue
			}
			if f.handle(ev) {
				return true, nil
			}
		}
	}
}

// handle prints ev and reports whether the run is over: the exit line has
// been seen and the state that follows it has arrived.
func (f *follower) handle(ev session.Event) bool {
	switch ev.Kind {
	case session.EventLog:
		if ev.Line == nil || ev.Line.Seq <= f.lastSeq {
			return false
		}
		f.print(*ev.Line)
	case session.EventState:
		if f.exited && ev.Status != nil && !ev.Status.Running {
			return true
		}
	}
	return false
}

func (f *follower) print(l logbuf.Line) {
	f.lastSeq = l.Seq
	if l.Source == logbuf.System {
		if strings.HasPrefix(l.Text, startMarker) {
			f.started = true
		} else if f.started && strings.HasPrefix(l.Text, exitMarker) {
			f.exited = true
		}
	}

	if machineMode {
		_ = json.NewEncoder(f.w).Encode(l)
		return
	}
	if f.timestamps {
		fmt.Fprintln(f.w, ui.StyleLineWithTime(l))
		return
	}
	fmt.Fprintln(f.w, ui.StyleLine(l))
}

// flush prints whatever is already queued without blocking.
func (f *follower) flush() {
	for {
		select {
		case ev, ok := <-f.sub.C:
			if !ok {
				_ = f.resubscribe()
				return
			}
			f.handle(ev)
		default:
			return
		}
	}
}

// resubscribe replaces a dropped subscription and prints the lines missed
// while it was behind.
func (f *follower) resubscribe() error {
	if !f.sub.Lagged() {
		return errors.New(errors.ErrSession, "Session closed", "").WithReason(errors.NotConnected)
	}
	_, snapshot, sub := f.sess.Subscribe(runFeedSize)
	f.sub = sub
	for _, l := range snapshot {
		if l.Seq > f.lastSeq {
			f.print(l)
		}
	}
	return nil
}
