package transport

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/internal/util"
)

// utf8CodePage switches a cmd.exe console to UTF-8.
const utf8CodePage = "chcp 65001"

// LocalOptions configures a local transport.
type LocalOptions struct {
	Options
	// Shell overrides the platform shell.
	Shell string
	// Encoding is the fallback for output that is not UTF-8. Empty uses
	// DefaultEncoding for the platform.
	Encoding       string
	PreambleWindow time.Duration
	// Prober replaces the gopsutil host prober, mainly for tests.
	Prober metrics.Prober
}

// Local runs the server's processes on this machine through a shell.
type Local struct {
	server config.Server
	opts   LocalOptions
	log    logger.Logger
	prober metrics.Prober

	mu        sync.Mutex
	connected bool
	shell     string
	decoder   *Decoder
}

var _ Transport = (*Local)(nil)

// NewLocal returns a local transport for s.
func NewLocal(s config.Server, opts LocalOptions) *Local {
	opts.Options = opts.Options.withDefaults()
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding(runtime.GOOS)
	}
	if opts.PreambleWindow <= 0 {
		opts.PreambleWindow = config.DefaultConfig().Local.PreambleWindow
	}
	prober := opts.Prober
	if prober == nil {
		prober = metrics.NewHostProber()
	}
	return &Local{
		server: config.ExpandServer(s),
		opts:   opts,
		log:    opts.Log,
		prober: prober,
	}
}

// Connect resolves the shell and the output decoder. There is nothing to
// dial, so timeout is unused.
func (t *Local) Connect(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	shell, err := resolveShell(t.opts.Shell)
	if err != nil {
		return err
	}
	decoder, err := NewDecoder(t.opts.Encoding)
	if err != nil {
		return err
	}

	t.shell = shell
	t.decoder = decoder
	t.connected = true
	t.log.Debug("local shell %s, fallback encoding %q", shell, decoder.Name())
	return nil
}

// resolveShell picks the configured shell, or bash (falling back to sh) on
// POSIX and cmd.exe on Windows.
func resolveShell(configured string) (string, error) {
	candidates := []string{configured}
	if configured == "" {
		if isWindowsHost() {
			candidates = []string{"cmd.exe"}
		} else {
			candidates = []string{"bash", "sh"}
		}
	}

	var lastErr error
	for _, c := range candidates {
		path, err := exec.LookPath(c)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", errors.WrapWithCode(lastErr, errors.ErrSSH,
		"No usable shell found: "+strings.Join(candidates, ", "),
		"Install bash or set local.shell in the config").
		WithReason(errors.Unknown)
}

func isCmdShell(shell string) bool {
	base := strings.ToLower(filepath.Base(shell))
	return strings.TrimSuffix(base, ".exe") == "cmd"
}

// Connected reports whether Connect has succeeded.
func (t *Local) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Local) state() (string, *Decoder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shell, t.decoder, t.connected
}

// Run executes command with the shell in the server's working directory.
func (t *Local) Run(ctx context.Context, command string) (Output, error) {
	shell, decoder, ok := t.state()
	if !ok {
		return Output{ExitCode: -1}, errNotConnected(errors.ErrExec)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.ExecTimeout)
	defer cancel()

	args := []string{"-c", command}
	if isCmdShell(shell) {
		args = []string{"/Q", "/C", command}
	}
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = t.workDir("")
	prepareCommand(cmd)
	cmd.Cancel = func() error { return kill(cmd) }
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout:   decoder.Decode(stdout.Bytes()),
		Stderr:   decoder.Decode(stderr.Bytes()),
		ExitCode: 0,
	}
	if err != nil {
		if ctx.Err() != nil {
			out.ExitCode = -1
			return out, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
				"Command did not finish in time: "+command, "").
				WithReason(errors.Timeout)
		}
		exitErr, isExit := err.(*exec.ExitError)
		if !isExit {
			out.ExitCode = -1
			return out, errors.WrapWithCode(err, errors.ErrExec,
				"Couldn't run the command locally",
				"Make sure the command exists and is executable.").
				WithReason(errors.ChannelCreationFailed)
		}
		out.ExitCode = exitErr.ExitCode()
	}
	if stderr.Len() > 0 {
		return out, stderrError(command, out.Stderr)
	}
	return out, nil
}

func (t *Local) workDir(dir string) string {
	if dir == "" {
		dir = t.server.WorkingDirectory
	}
	if dir == "" {
		return ""
	}
	return config.ExpandTilde(config.Expand(dir))
}

// Stream spawns the shell in workDir and feeds it command through stdin.
func (t *Local) Stream(ctx context.Context, command, workDir string, sink Sink) (Stream, error) {
	shell, decoder, ok := t.state()
	if !ok {
		return nil, errNotConnected(errors.ErrStream)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := t.workDir(workDir)
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, errors.New(errors.ErrStream,
				"Working directory not found: "+dir,
				"Edit the server and fix its working directory.").
				WithReason(errors.ChannelCreationFailed)
		}
	}

	cmdShell := isCmdShell(shell)
	var args []string
	if cmdShell {
		args = []string{"/Q"}
	}

	cmd := exec.Command(shell, args...)
	cmd.Dir = dir
	prepareCommand(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnError(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnError(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, spawnError(err)
	}
	t.log.Debug("spawned %s (pid %d) in %s", shell, cmd.Process.Pid, dir)

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &localStream{
		procStream: newProcStream(stdin, cancel),
		cmd:        cmd,
		stdin:      stdin,
		grace:      t.opts.StopGrace,
		log:        t.log,
	}

	filter := newPreambleFilter(cmdShell, t.opts.PreambleWindow, nil)
	emit := func(src logbuf.Source) func(string) {
		return func(line string) {
			if filter.Keep(line) {
				sink.Line(src, line)
			}
		}
	}
	pumped := pumpPair(streamCtx, stdout, stderr, decoder.Decode, emit(logbuf.Stdout), emit(logbuf.Stderr))

	script := util.ExitWithBash(command)
	if cmdShell {
		script = utf8CodePage + "\r\n" + util.ExitWithCmd(command)
	}
	if _, err := io.WriteString(stdin, script); err != nil {
		t.log.Warn("writing start command failed: %v", err)
	}

	go func() {
		readErr := <-pumped
		waitErr := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}

		var err error
		if readErr != nil {
			err = errors.WrapWithCode(readErr, errors.ErrStream,
				"Failed reading process output", "").
				WithReason(errors.IOFailure)
		} else if waitErr != nil {
			if _, isExit := waitErr.(*exec.ExitError); !isExit {
				err = errors.WrapWithCode(waitErr, errors.ErrStream,
					"Lost the local process", "").
					WithReason(errors.IOFailure)
			}
		}
		s.finish(code, err)
	}()

	return s, nil
}

func spawnError(err error) error {
	return errors.WrapWithCode(err, errors.ErrStream,
		"Couldn't start the local shell",
		"Check local.shell and the working directory.").
		WithReason(errors.ChannelCreationFailed)
}

type localStream struct {
	*procStream
	cmd   *exec.Cmd
	stdin io.WriteCloser
	grace time.Duration
	log   logger.Logger
}

// Stop terminates the process tree, then kills it after the grace period.
func (s *localStream) Stop(ctx context.Context) error {
	if s.ended() {
		return nil
	}

	if err := terminate(s.cmd); err != nil {
		s.log.Debug("terminate pid %d: %v", s.cmd.Process.Pid, err)
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	if s.waitDone(graceCtx) {
		return nil
	}

	if err := kill(s.cmd); err != nil {
		s.log.Debug("kill pid %d: %v", s.cmd.Process.Pid, err)
	}
	_ = s.stdin.Close()

	// A grandchild holding the pipes open keeps the readers alive; the
	// cancel makes them give up at the next line.
	s.cancel()
	if !s.waitDone(ctx) {
		return errors.WrapWithCode(ctx.Err(), errors.ErrStream,
			"Process did not stop in time", "").
			WithReason(errors.Timeout)
	}
	return nil
}

// SampleMetrics reads this machine's CPU, memory and network rate.
func (t *Local) SampleMetrics(ctx context.Context, prev metrics.Sample) (metrics.Sample, error) {
	if !t.Connected() {
		return prev, errNotConnected(errors.ErrMetrics)
	}
	return metrics.Gather(ctx, t.prober, prev, time.Now())
}

// Disconnect marks the transport disconnected. Running streams are stopped
// by the session before this is called.
func (t *Local) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}
