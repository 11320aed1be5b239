package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/skarch/logpanel/internal/errors"
	"golang.org/x/crypto/ssh"
)

var _ Runner = (*Client)(nil)

// Run executes cmd on a fresh session and returns its output. If ctx ends
// first the session is closed and a Timeout error is returned.
func (c *Client) Run(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
			"Failed to open SSH channel",
			"Connection may have been closed. Try reconnecting.").
			WithReason(errors.ChannelCreationFailed)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	if err := session.Start(cmd); err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Failed to start command: %s", cmd),
			"The server refused the exec request.").
			WithReason(errors.ChannelCreationFailed)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			fmt.Sprintf("Command did not finish in time: %s", cmd),
			"The host may be overloaded, or the command may be waiting for input.").
			WithReason(errors.Timeout)
	case err := <-done:
		code, err := exitStatus(err)
		if err != nil {
			return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"Check if the command exists on the remote host.").
				WithReason(errors.IOFailure)
		}
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), code, nil
	}
}

// Start launches cmd on a new session with pipes attached.
func (c *Client) Start(ctx context.Context, cmd string, opts StartOptions) (Process, error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStream,
			"Failed to open SSH channel",
			"Connection may have been closed. Try reconnecting.").
			WithReason(errors.ChannelCreationFailed)
	}

	fail := func(err error, msg string) (Process, error) {
		session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrStream, msg, "").
			WithReason(errors.ChannelCreationFailed)
	}

	if opts.PTY {
		term := opts.Term
		if term == "" {
			term = "xterm"
		}
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty(term, opts.Rows, opts.Cols, modes); err != nil {
			return fail(err, "Failed to allocate a PTY")
		}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(err, "Failed to attach stdout")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fail(err, "Failed to attach stderr")
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fail(err, "Failed to attach stdin")
	}

	if err := session.Start(cmd); err != nil {
		return fail(err, fmt.Sprintf("Failed to start: %s", cmd))
	}

	p := &remoteProcess{session: session, stdout: stdout, stderr: stderr, stdin: stdin}
	p.stop = context.AfterFunc(ctx, func() { session.Close() })
	return p, nil
}

type remoteProcess struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
	stdin   io.WriteCloser
	stop    func() bool
}

func (p *remoteProcess) Stdout() io.Reader { return p.stdout }
func (p *remoteProcess) Stderr() io.Reader { return p.stderr }
func (p *remoteProcess) Stdin() io.Writer  { return p.stdin }

func (p *remoteProcess) Wait() (int, error) {
	err := p.session.Wait()
	p.stop()
	return exitStatus(err)
}

func (p *remoteProcess) Signal(name string) error {
	return p.session.Signal(ssh.Signal(name))
}

func (p *remoteProcess) Close() error {
	p.stop()
	err := p.session.Close()
	if stderrors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// exitStatus turns a session.Wait error into an exit code. A command that
// ran and failed is not an error.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}
