// Package transport runs commands and long-lived processes for a server,
// either over SSH or as a local child process.
package transport

import (
	"context"
	"runtime"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
)

// Transport is the connection to one server.
type Transport interface {
	// Connect establishes the connection. It is a no-op when already
	// connected and live.
	Connect(ctx context.Context, timeout time.Duration) error
	Connected() bool
	// Run executes a command to completion. Any stderr output makes it fail
	// with reason NonZeroStderr.
	Run(ctx context.Context, command string) (Output, error)
	// Stream launches command in workDir and delivers its output lines to
	// sink until the process ends or the stream is stopped.
	Stream(ctx context.Context, command, workDir string, sink Sink) (Stream, error)
	SampleMetrics(ctx context.Context, prev metrics.Sample) (metrics.Sample, error)
	// Disconnect always leaves the transport disconnected. The returned
	// error is informational.
	Disconnect() error
}

// Stream is a running process started by Transport.Stream.
type Stream interface {
	// SendInput writes text plus a newline to the process.
	SendInput(text string) error
	// Stop ends the process, gracefully first. It returns once the process
	// is gone or ctx ends.
	Stop(ctx context.Context) error
	// Done is closed when the process has exited and all output has been
	// delivered.
	Done() <-chan struct{}
	// Err is the reason the stream ended abnormally, if any. Valid after Done.
	Err() error
	// ExitCode is the process status, -1 if unknown. Valid after Done.
	ExitCode() int
}

// Output is the captured result of Run.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Sink receives stream output. Lines from one source arrive in order;
// ordering across sources is best effort.
type Sink interface {
	Line(src logbuf.Source, text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(src logbuf.Source, text string)

// Line calls f.
func (f SinkFunc) Line(src logbuf.Source, text string) {
	f(src, text)
}

// Options are the settings shared by both transports.
type Options struct {
	ExecTimeout time.Duration
	StopGrace   time.Duration
	Log         logger.Logger
}

func (o Options) withDefaults() Options {
	d := config.DefaultConfig().Session
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = d.ExecTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = d.StopGrace
	}
	o.Log = logger.OrDefault(o.Log)
	return o
}

// New returns the transport for s configured from cfg.
func New(s config.Server, cfg *config.Config, log logger.Logger) Transport {
	opts := Options{
		ExecTimeout: cfg.Session.ExecTimeout,
		StopGrace:   cfg.Session.StopGrace,
		Log:         log,
	}
	if s.IsLocal() {
		return NewLocal(s, LocalOptions{
			Options:        opts,
			Shell:          cfg.Local.Shell,
			Encoding:       cfg.Local.Encoding,
			PreambleWindow: cfg.Local.PreambleWindow,
		})
	}
	return NewSSH(s, SSHOptions{
		Options:        opts,
		UseAgent:       cfg.SSH.UseAgent,
		UseSSHConfig:   cfg.SSH.UseSSHConfig,
		HostKeyPolicy:  cfg.SSH.HostKeyPolicy,
		KnownHostsPath: cfg.SSH.KnownHosts,
	})
}

func isWindowsHost() bool {
	return runtime.GOOS == "windows"
}
