package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/internal/util"
	"github.com/skarch/logpanel/pkg/sshutil"
)

// StderrPrefix marks lines read from a remote stderr pipe.
const StderrPrefix = "[ERROR] "

// DialFunc opens an SSH connection.
type DialFunc func(ctx context.Context, host string, opts sshutil.Options) (sshutil.Runner, error)

func dialSSH(ctx context.Context, host string, opts sshutil.Options) (sshutil.Runner, error) {
	return sshutil.Dial(ctx, host, opts)
}

// SSHOptions configures an SSH transport.
type SSHOptions struct {
	Options
	UseAgent       bool
	UseSSHConfig   bool
	HostKeyPolicy  string
	KnownHostsPath string
	// Dial replaces sshutil.Dial, mainly for tests.
	Dial DialFunc
}

// SSH is the transport for remote servers.
type SSH struct {
	server config.Server
	opts   SSHOptions
	log    logger.Logger

	connectMu sync.Mutex
	mu        sync.Mutex
	runner    sshutil.Runner
	rate      metrics.RateTracker
}

var _ Transport = (*SSH)(nil)

// NewSSH returns an unconnected SSH transport for s.
func NewSSH(s config.Server, opts SSHOptions) *SSH {
	opts.Options = opts.Options.withDefaults()
	if opts.Dial == nil {
		opts.Dial = dialSSH
	}
	return &SSH{
		server: config.ExpandServer(s),
		opts:   opts,
		log:    opts.Log,
	}
}

func (t *SSH) current() sshutil.Runner {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runner
}

// Connect dials the server unless a live connection already exists.
func (t *SSH) Connect(ctx context.Context, timeout time.Duration) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	if r := t.current(); r != nil {
		if sshutil.AliveWithin(ctx, r, timeout) {
			return nil
		}
		t.log.Debug("connection to %s went away, redialing", t.server.Address())
		_ = r.Close()
		t.mu.Lock()
		t.runner = nil
		t.mu.Unlock()
	}

	runner, err := t.opts.Dial(ctx, t.server.Host, sshutil.Options{
		User:           t.server.User,
		Port:           t.server.Port,
		Password:       t.server.Password,
		KeyPath:        t.server.PrivateKeyPath,
		UseAgent:       t.opts.UseAgent,
		UseSSHConfig:   t.opts.UseSSHConfig,
		HostKeyPolicy:  t.opts.HostKeyPolicy,
		KnownHostsPath: t.opts.KnownHostsPath,
		Timeout:        timeout,
	})
	if err != nil {
		if errors.ReasonOf(err) == "" {
			err = errors.WrapWithCode(err, errors.ErrSSH,
				"Can't connect to "+t.server.Address(), "").
				WithReason(sshutil.ClassifyError(err))
		}
		return err
	}

	t.mu.Lock()
	t.runner = runner
	t.mu.Unlock()
	t.log.Debug("connected to %s", runner.GetAddress())
	return nil
}

// Connected reports whether a connection is held.
func (t *SSH) Connected() bool {
	return t.current() != nil
}

// Run executes command bounded by the exec timeout.
func (t *SSH) Run(ctx context.Context, command string) (Output, error) {
	r := t.current()
	if r == nil {
		return Output{ExitCode: -1}, errNotConnected(errors.ErrExec)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.ExecTimeout)
	defer cancel()

	stdout, stderr, code, err := r.Run(ctx, command)
	out := Output{Stdout: string(stdout), Stderr: string(stderr), ExitCode: code}
	if err != nil {
		return out, err
	}
	if len(stderr) > 0 {
		return out, stderrError(command, out.Stderr)
	}
	return out, nil
}

// Stream starts command in workDir on a PTY-backed channel.
func (t *SSH) Stream(ctx context.Context, command, workDir string, sink Sink) (Stream, error) {
	r := t.current()
	if r == nil {
		return nil, errNotConnected(errors.ErrStream)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	proc, err := r.Start(streamCtx, remoteCommand(t.server.OS, workDir, command), sshutil.DefaultStartOptions())
	if err != nil {
		cancel()
		return nil, err
	}

	s := &sshStream{procStream: newProcStream(proc.Stdin(), cancel), proc: proc, grace: t.opts.StopGrace}

	pumped := pumpPair(streamCtx, proc.Stdout(), proc.Stderr(), utf8Decode,
		func(line string) { sink.Line(logbuf.Stdout, line) },
		func(line string) { sink.Line(logbuf.Stderr, StderrPrefix+line) },
	)

	go func() {
		readErr := <-pumped
		code, waitErr := proc.Wait()
		var err error
		switch {
		case waitErr != nil && !s.stopping():
			err = errors.WrapWithCode(waitErr, errors.ErrStream,
				"Lost the remote process", "The SSH connection may have dropped.").
				WithReason(errors.IOFailure)
		case readErr != nil:
			err = errors.WrapWithCode(readErr, errors.ErrStream,
				"Failed reading remote output", "").
				WithReason(errors.IOFailure)
		}
		s.finish(code, err)
		_ = proc.Close()
	}()

	return s, nil
}

// remoteCommand prefixes command with a change into workDir using the
// server's shell syntax.
func remoteCommand(osType config.OSType, workDir, command string) string {
	if workDir == "" {
		return command
	}
	if osType == config.OSWindows {
		return fmt.Sprintf("cd /d %s && %s", util.CmdQuote(workDir), command)
	}
	return fmt.Sprintf("cd %s && %s", util.ShellQuotePreserveTilde(workDir), command)
}

type sshStream struct {
	*procStream
	proc  sshutil.Process
	grace time.Duration

	stopMu  sync.Mutex
	stopped bool
}

func (s *sshStream) stopping() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopped
}

// Stop interrupts the remote command (Ctrl-C through the PTY plus an INT
// signal), then closes the channel if it has not exited within the grace
// period.
func (s *sshStream) Stop(ctx context.Context) error {
	if s.ended() {
		return nil
	}
	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()

	s.inputMu.Lock()
	_, _ = s.proc.Stdin().Write([]byte{0x03})
	s.inputMu.Unlock()
	_ = s.proc.Signal("INT")

	graceCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	if s.waitDone(graceCtx) {
		return nil
	}

	_ = s.proc.Close()
	s.cancel()
	if !s.waitDone(ctx) {
		return errors.WrapWithCode(ctx.Err(), errors.ErrStream,
			"Remote process did not stop in time", "").
			WithReason(errors.Timeout)
	}
	return nil
}

// SampleMetrics runs the OS-specific probe commands.
func (t *SSH) SampleMetrics(ctx context.Context, prev metrics.Sample) (metrics.Sample, error) {
	if t.current() == nil {
		return prev, errNotConnected(errors.ErrMetrics)
	}

	cmds := metrics.LinuxCommands
	if t.server.OS == config.OSWindows {
		cmds = metrics.WindowsCommands
	}

	prober := metrics.ProberFunc(func(ctx context.Context, f metrics.Field) (float64, error) {
		switch f {
		case metrics.CPU:
			out, err := t.Run(ctx, cmds.CPU)
			if err != nil {
				return 0, err
			}
			return cmds.ParseCPU(out.Stdout)
		case metrics.RAM:
			out, err := t.Run(ctx, cmds.RAM)
			if err != nil {
				return 0, err
			}
			return cmds.ParseRAM(out.Stdout)
		default:
			out, err := t.Run(ctx, cmds.Net)
			if err != nil {
				return 0, err
			}
			total, err := cmds.ParseNet(out.Stdout)
			if err != nil {
				return 0, err
			}
			return t.rate.Observe(total, time.Now()), nil
		}
	})

	return metrics.Gather(ctx, prober, prev, time.Now())
}

// Disconnect closes the connection.
func (t *SSH) Disconnect() error {
	t.mu.Lock()
	r := t.runner
	t.runner = nil
	t.mu.Unlock()

	if r == nil {
		return nil
	}
	t.log.Debug("disconnecting from %s", r.GetAddress())
	if err := r.Close(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}

func stderrError(command, stderr string) error {
	return errors.WrapWithCode(fmt.Errorf("%s", strings.TrimSpace(stderr)), errors.ErrExec,
		"Command wrote to stderr: "+command,
		"").WithReason(errors.NonZeroStderr)
}
