package sshutil

import (
	"context"
	"io"
)

// Runner executes commands on a connected host. Both *Client and the mock
// in sshutil/testing satisfy it.
type Runner interface {
	// Run executes cmd and collects its output. exitCode is -1 when the
	// command never reported a status. A non-zero exit with nil error
	// means the command ran but failed.
	Run(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Start launches cmd and returns immediately. Cancelling ctx closes
	// the channel, which ends the remote command.
	Start(ctx context.Context, cmd string, opts StartOptions) (Process, error)

	Close() error
	GetHost() string
	GetAddress() string

	// SendRequest sends a global request on the connection.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
}

// Process is a command started with Runner.Start.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Stdin() io.Writer
	// Wait blocks until the command exits and returns its status.
	Wait() (int, error)
	// Signal delivers a signal by name without the SIG prefix, e.g. "TERM".
	Signal(name string) error
	Close() error
}

// StartOptions configures Runner.Start.
type StartOptions struct {
	// PTY requests a pseudo-terminal, which most servers need before they
	// forward signals and line-buffer output.
	PTY  bool
	Term string
	Rows int
	Cols int
}

// DefaultStartOptions is an 80x40 xterm.
func DefaultStartOptions() StartOptions {
	return StartOptions{PTY: true, Term: "xterm", Rows: 40, Cols: 80}
}
