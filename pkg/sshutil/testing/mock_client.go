package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"

	"github.com/skarch/logpanel/pkg/sshutil"
)

// ErrClosed is returned by a MockClient after Close or Drop.
var ErrClosed = errors.New("connection closed")

// CommandResponse defines a canned response for a command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	// Hold keeps a started process alive after its output is written,
	// until it is signalled, closed or its context ends.
	Hold bool
}

type commandRule struct {
	pattern string
	re      *regexp.Regexp
	resp    CommandResponse
}

// MockClient is an in-memory sshutil.Runner. Commands are answered from
// registered responses: exact matches first, then regex patterns in
// registration order. Unmatched commands exit 127.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	rules    []commandRule
	calls    []string
	started  []*MockProcess
	requests []string
	stalled  chan struct{}
}

var _ sshutil.Runner = (*MockClient)(nil)

// NewMockClient creates a mock connected to host.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:    host,
		address: host + ":22",
	}
}

// SetCommandResponse registers a response for an exact command or regex.
// Registering the same pattern again replaces its response.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		if m.rules[i].pattern == pattern {
			m.rules[i].resp = resp
			return
		}
	}
	re, _ := regexp.Compile(pattern)
	m.rules = append(m.rules, commandRule{pattern: pattern, re: re, resp: resp})
}

func (m *MockClient) lookup(cmd string) CommandResponse {
	for _, r := range m.rules {
		if r.pattern == cmd {
			return r.resp
		}
	}
	for _, r := range m.rules {
		if r.re != nil && r.re.MatchString(cmd) {
			return r.resp
		}
	}
	return CommandResponse{Stderr: []byte("command not found\n"), ExitCode: 127}
}

// Run answers cmd from the registered responses.
func (m *MockClient) Run(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, -1, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, -1, err
	}
	m.calls = append(m.calls, cmd)

	resp := m.lookup(cmd)
	if resp.Error != nil {
		return nil, nil, -1, resp.Error
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, nil
}

// Start returns a MockProcess that writes the registered output.
func (m *MockClient) Start(ctx context.Context, cmd string, opts sshutil.StartOptions) (sshutil.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.calls = append(m.calls, cmd)

	resp := m.lookup(cmd)
	if resp.Error != nil {
		return nil, resp.Error
	}

	p := newMockProcess(ctx, cmd, opts, resp)
	m.started = append(m.started, p)
	return p, nil
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.unstallLocked()
	return nil
}

// Drop simulates the connection going away underneath the caller. Running
// processes end with status -1.
func (m *MockClient) Drop() {
	m.mu.Lock()
	m.closed = true
	m.unstallLocked()
	started := append([]*MockProcess(nil), m.started...)
	m.mu.Unlock()

	for _, p := range started {
		p.finish(-1)
	}
}

// Closed reports whether Close or Drop was called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// Stall makes later requests hang until the connection is closed, like a
// half-open TCP connection.
func (m *MockClient) Stall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stalled == nil {
		m.stalled = make(chan struct{})
	}
}

func (m *MockClient) unstallLocked() {
	if m.stalled != nil {
		close(m.stalled)
		m.stalled = nil
	}
}

// SendRequest accepts every request while the connection is open.
func (m *MockClient) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, nil, ErrClosed
	}
	m.requests = append(m.requests, name)
	stalled := m.stalled
	m.mu.Unlock()

	if stalled != nil {
		<-stalled
		return false, nil, ErrClosed
	}
	return true, nil, nil
}

// Calls returns every command passed to Run or Start, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Processes returns the processes created by Start.
func (m *MockClient) Processes() []*MockProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockProcess(nil), m.started...)
}

// MockProcess is the sshutil.Process returned by MockClient.Start.
type MockProcess struct {
	Command string
	Options sshutil.StartOptions

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu      sync.Mutex
	stdin   bytes.Buffer
	signals []string
	code    int

	exited   chan struct{}
	stopCtx  func() bool
	finished sync.Once
}

var _ sshutil.Process = (*MockProcess)(nil)

func newMockProcess(ctx context.Context, cmd string, opts sshutil.StartOptions, resp CommandResponse) *MockProcess {
	p := &MockProcess{
		Command: cmd,
		Options: opts,
		code:    resp.ExitCode,
		exited:  make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	p.stopCtx = context.AfterFunc(ctx, func() { p.finish(-1) })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if len(resp.Stdout) > 0 {
			_, _ = p.stdoutW.Write(resp.Stdout)
		}
	}()
	go func() {
		defer wg.Done()
		if len(resp.Stderr) > 0 {
			_, _ = p.stderrW.Write(resp.Stderr)
		}
	}()
	go func() {
		wg.Wait()
		if !resp.Hold {
			p.finish(resp.ExitCode)
		}
	}()
	return p
}

// finish ends the process with code. Only the first call has effect.
func (p *MockProcess) finish(code int) {
	p.finished.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		p.stdoutW.Close()
		p.stderrW.Close()
		p.stopCtx()
		close(p.exited)
	})
}

func (p *MockProcess) Stdout() io.Reader { return p.stdoutR }
func (p *MockProcess) Stderr() io.Reader { return p.stderrR }

func (p *MockProcess) Stdin() io.Writer { return (*stdinWriter)(p) }

type stdinWriter MockProcess

func (w *stdinWriter) Write(b []byte) (int, error) {
	p := (*MockProcess)(w)
	select {
	case <-p.exited:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.Write(b)
}

// Wait blocks until the process ends.
func (p *MockProcess) Wait() (int, error) {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

// Signal records the signal and ends the process as a shell would.
func (p *MockProcess) Signal(name string) error {
	p.mu.Lock()
	p.signals = append(p.signals, name)
	p.mu.Unlock()

	switch name {
	case "INT":
		p.finish(130)
	case "TERM":
		p.finish(143)
	case "KILL":
		p.finish(137)
	}
	return nil
}

// Close ends the process as if its channel was closed.
func (p *MockProcess) Close() error {
	p.finish(-1)
	return nil
}

// StdinString returns everything written to stdin.
func (p *MockProcess) StdinString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.String()
}

// Signals returns the signals received, in order.
func (p *MockProcess) Signals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signals...)
}

// Exited is closed once the process has ended.
func (p *MockProcess) Exited() <-chan struct{} {
	return p.exited
}
