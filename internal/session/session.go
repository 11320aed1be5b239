// Package session owns the lifecycle of one server connection: connect,
// start, stop and disconnect, the bounded log feed, and metrics sampling.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/skarch/logpanel/internal/util"
)

// Options configures sessions created by a Registry or New.
type Options struct {
	BufferSize      int
	ConnectTimeout  time.Duration
	MetricsInterval time.Duration
	Log             logger.Logger
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	d := config.DefaultConfig()
	if o.BufferSize <= 0 {
		o.BufferSize = d.Log.BufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.Session.ConnectTimeout
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = d.Metrics.Interval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Log = logger.OrDefault(o.Log)
	return o
}

// OptionsFromConfig maps application settings onto session options.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		BufferSize:      cfg.Log.BufferSize,
		ConnectTimeout:  cfg.Session.ConnectTimeout,
		MetricsInterval: cfg.Metrics.Interval,
		Log:             log,
	}
}

type connectCall struct {
	done chan struct{}
	err  error
}

// Session is the live state of one server. All methods are safe for
// concurrent use. Invariants: running implies connected, and there is at
// most one stream at a time.
type Session struct {
	id     int
	server config.Server
	tr     transport.Transport
	buf    *logbuf.Buffer
	opts   Options
	log    logger.Logger

	mu         sync.Mutex
	state      State
	connected  bool
	running    bool
	connecting *connectCall
	stream     transport.Stream
	watched    chan struct{}
	runID      string
	startedAt  time.Time
	lastExit   int
	sample     metrics.Sample
	hasSample  bool
	sampler    *metrics.Sampler

	busMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New creates an idle session for server using tr.
func New(server config.Server, tr transport.Transport, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:       server.ID,
		server:   server,
		tr:       tr,
		buf:      logbuf.New(opts.BufferSize),
		opts:     opts,
		log:      opts.Log,
		state:    Idle,
		lastExit: -1,
		subs:     make(map[*Subscription]struct{}),
	}
	s.sampler = metrics.NewSampler(opts.MetricsInterval, s.sampleOnce, opts.Log)
	return s
}

// ID returns the server id.
func (s *Session) ID() int {
	return s.id
}

// Server returns the definition the session was created from.
func (s *Session) Server() config.Server {
	return s.server
}

// Buffer exposes the log buffer for pull readers.
func (s *Session) Buffer() *logbuf.Buffer {
	return s.buf
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ServerID:     s.id,
		State:        s.state,
		Connected:    s.connected,
		Running:      s.running,
		Metrics:      s.sample,
		HasMetrics:   s.hasSample,
		StartedAt:    s.startedAt,
		RunID:        s.runID,
		LastExitCode: s.lastExit,
	}
}

// Connected reports whether the transport is connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Running reports whether a process is running.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Connect connects the transport. Concurrent callers share one attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if call := s.connecting; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &connectCall{done: make(chan struct{})}
	s.connecting = call
	prev := s.state
	s.state = Connecting
	s.mu.Unlock()

	s.publishState()
	s.appendLine(logbuf.System, "Connecting to "+s.server.Label()+"...")

	err := s.tr.Connect(ctx, s.opts.ConnectTimeout)

	s.mu.Lock()
	s.connecting = nil
	if err != nil {
		s.state = prev
	} else {
		s.connected = true
		s.state = Connected
	}
	call.err = err
	close(call.done)
	s.mu.Unlock()

	if err != nil {
		s.fail("Connection failed", err)
		s.publishState()
		return err
	}

	s.sampler.Start()
	s.appendLine(logbuf.System, "Connected to "+s.server.Label())
	s.notify(NotifyInfo, "Connected to "+s.server.Name)
	s.publishState()
	return nil
}

// Start launches the server's start command. Local servers connect
// implicitly; SSH servers must be connected first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.state == Starting || s.state == Stopping {
		s.mu.Unlock()
		return s.reject("Start", errors.New(errors.ErrSession,
			s.server.Name+" is already running", "Stop it first.").WithReason(errors.Rejected))
	}
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		if !s.server.IsLocal() {
			return s.reject("Start", errors.New(errors.ErrSession,
				"Not connected to "+s.server.Name,
				"Connect to the server first, then start it.").WithReason(errors.NotConnected))
		}
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.running || s.state == Starting || !s.connected {
		s.mu.Unlock()
		return s.reject("Start", errors.New(errors.ErrSession,
			"Can't start "+s.server.Name+" right now", "Try again.").WithReason(errors.Rejected))
	}
	prev := s.state
	s.state = Starting
	s.mu.Unlock()
	s.publishState()

	runID := uuid.NewString()
	startSeq := s.buf.LastSeq()
	s.appendLine(logbuf.System, fmt.Sprintf("▶ Starting %s (run %s)", s.server.Name, shortID(runID)))
	if s.server.WorkingDirectory != "" {
		s.appendLine(logbuf.System, "  dir: "+s.server.WorkingDirectory)
	}
	s.appendLine(logbuf.System, "  cmd: "+s.server.StartCommand)
	s.appendLine(logbuf.System, "  os:  "+string(s.server.OS))

	sink := transport.SinkFunc(func(src logbuf.Source, text string) {
		s.appendLine(src, text)
	})
	stream, err := s.tr.Stream(ctx, s.server.StartCommand, s.server.WorkingDirectory, sink)
	if err != nil {
		s.mu.Lock()
		if s.connected {
			s.state = prev
		} else {
			s.state = Disconnected
		}
		s.mu.Unlock()
		s.fail("Start failed", err)
		s.publishState()
		return err
	}

	watched := make(chan struct{})
	s.mu.Lock()
	if !s.connected {
		// Disconnect won the race while the stream was being opened.
		if s.state == Starting {
			s.state = Disconnected
		}
		s.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConnectTimeout)
		if err := stream.Stop(stopCtx); err != nil {
			s.log.Debug("%s: stop after disconnect: %v", s.server.Name, errors.Summary(err))
		}
		cancel()
		s.publishState()
		return s.reject("Start", errors.New(errors.ErrSession,
			"Disconnected from "+s.server.Name+" while starting",
			"Connect again, then start it.").WithReason(errors.Rejected))
	}
	s.stream = stream
	s.watched = watched
	s.running = true
	s.state = Running
	s.runID = runID
	s.startedAt = s.opts.Now()
	s.mu.Unlock()

	s.notify(NotifyInfo, s.server.Name+" started")
	s.publishState()

	// Started after the Running event so subscribers always see it before
	// the exit.
	go s.watch(stream, runID, startSeq, watched)
	return nil
}

// watch waits for the stream to end and returns the session to Connected.
func (s *Session) watch(stream transport.Stream, runID string, startSeq uint64, watched chan struct{}) {
	defer close(watched)
	<-stream.Done()

	lines := 0
	for _, l := range s.buf.Since(startSeq) {
		if l.Source != logbuf.System {
			lines++
		}
	}
	code := stream.ExitCode()

	s.mu.Lock()
	current := s.stream == stream
	if current {
		s.stream = nil
		s.running = false
		s.lastExit = code
		if s.connected {
			s.state = Connected
		} else {
			s.state = Disconnected
		}
	}
	s.mu.Unlock()

	s.appendLine(logbuf.System, fmt.Sprintf("■ Process exited with code %d (run %s, %d %s)",
		code, shortID(runID), lines, util.Pluralize(lines, "line", "lines")))
	if err := stream.Err(); err != nil {
		s.fail("Process ended unexpectedly", err)
	}
	if current {
		s.publishState()
	}
}

// Stop ends the running process. It is a no-op when nothing runs.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	stream := s.stream
	watched := s.watched
	s.state = Stopping
	s.mu.Unlock()
	s.publishState()
	s.appendLine(logbuf.System, "Stopping "+s.server.Name+"...")

	err := stream.Stop(ctx)
	if err == nil {
		select {
		case <-watched:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		s.mu.Lock()
		if s.stream == stream {
			s.state = Running
		}
		s.mu.Unlock()
		s.fail("Stop failed", err)
		s.publishState()
		return err
	}

	s.notify(NotifyInfo, s.server.Name+" stopped")
	return nil
}

// Disconnect stops any running process and closes the transport. It is
// idempotent; only the call that actually disconnects can return an error.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	call := s.connecting
	s.mu.Unlock()
	if call != nil {
		select {
		case <-call.done:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	if !s.connected && !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		s.log.Warn("%s: stop during disconnect: %v", s.server.Name, errors.Summary(err))
	}

	s.sampler.Stop()
	closeErr := s.tr.Disconnect()

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.running = false
	s.stream = nil
	s.state = Disconnected
	s.mu.Unlock()

	if !wasConnected {
		return nil
	}

	s.appendLine(logbuf.System, "Disconnected from "+s.server.Label())
	if closeErr != nil {
		s.log.Debug("%s: close: %v", s.server.Name, closeErr)
	}
	s.notify(NotifyInfo, "Disconnected from "+s.server.Name)
	s.publishState()
	return closeErr
}

// SendInput writes a line to the running process.
func (s *Session) SendInput(text string) error {
	s.mu.Lock()
	connected, running, stream := s.connected, s.running, s.stream
	s.mu.Unlock()

	if !connected || !running || stream == nil {
		reason := errors.NotRunning
		if !connected {
			reason = errors.NotConnected
		}
		return s.reject("Input", errors.New(errors.ErrSession,
			s.server.Name+" is not running", "Start the server first.").WithReason(reason))
	}

	s.appendLine(logbuf.System, "> "+text)
	if err := stream.SendInput(text); err != nil {
		s.fail("Input failed", err)
		return err
	}
	return nil
}

// Execute runs a one-shot command and records its output in the log.
func (s *Session) Execute(ctx context.Context, command string) (transport.Output, error) {
	if !s.Connected() {
		return transport.Output{ExitCode: -1}, s.reject("Exec", errors.New(errors.ErrSession,
			"Not connected to "+s.server.Name, "Start the server first.").WithReason(errors.NotConnected))
	}

	s.appendLine(logbuf.System, "$ "+command)
	out, err := s.tr.Run(ctx, command)
	for _, line := range splitLines(out.Stdout) {
		s.appendLine(logbuf.Stdout, line)
	}
	for _, line := range splitLines(out.Stderr) {
		s.appendLine(logbuf.Stderr, line)
	}
	if err != nil {
		s.fail("Command failed", err)
		return out, err
	}
	return out, nil
}

// Lines returns every retained log line.
func (s *Session) Lines() []logbuf.Line {
	return s.buf.Snapshot()
}

// Since returns retained lines after seq.
func (s *Session) Since(seq uint64) []logbuf.Line {
	return s.buf.Since(seq)
}

// ErrorLines returns retained lines classified as errors.
func (s *Session) ErrorLines() []logbuf.Line {
	return s.buf.Errors()
}

// RemoveLine deletes every retained line with exactly text.
func (s *Session) RemoveLine(text string) int {
	return s.buf.Remove(text)
}

// ClearLogs empties the log buffer.
func (s *Session) ClearLogs() {
	s.buf.Clear()
}

// Close disconnects and drops every subscriber.
func (s *Session) Close(ctx context.Context) error {
	err := s.Disconnect(ctx)
	s.closeSubscribers()
	return err
}

func (s *Session) sampleOnce(ctx context.Context) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	prev := s.sample
	s.mu.Unlock()

	next, err := s.tr.SampleMetrics(ctx, prev)
	if err != nil {
		s.log.Debug("%s: metrics: %s", s.server.Name, errors.Summary(err))
		if !errors.IsReason(err, errors.PartialFailure) {
			return
		}
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.sample = next
	s.hasSample = true
	s.mu.Unlock()

	s.publish(Event{Kind: EventMetrics, Metrics: &next})
}

// fail records err as a system line and an error notification.
func (s *Session) fail(what string, err error) {
	msg := what + ": " + errors.Summary(err)
	s.appendLine(logbuf.System, "✗ "+msg)
	s.notify(NotifyError, msg)
	s.log.Debug("%s: %s", s.server.Name, msg)
}

// reject is fail for precondition errors.
func (s *Session) reject(op string, err *errors.Error) error {
	s.fail(op+" rejected", err)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
