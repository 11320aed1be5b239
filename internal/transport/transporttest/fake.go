// Package transporttest provides an in-memory Transport for tests of the
// layers above sessions.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/internal/transport"
)

// Fake is a Transport whose processes run until stopped or finished by the
// test.
type Fake struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	output     transport.Output
	runErr     error
	sample     metrics.Sample
	streams    []*FakeStream
	commands   []string
}

// New returns a disconnected Fake.
func New() *Fake {
	return &Fake{}
}

// FailConnect makes later Connect calls return err.
func (f *Fake) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// SetOutput sets what Run returns.
func (f *Fake) SetOutput(out transport.Output, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output, f.runErr = out, err
}

// SetSample sets what SampleMetrics returns.
func (f *Fake) SetSample(s metrics.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = s
}

// Commands returns every command passed to Run or Stream.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// LastStream returns the most recent stream, or nil.
func (f *Fake) LastStream() *FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *Fake) Connect(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Run(ctx context.Context, command string) (transport.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.output, f.runErr
}

func (f *Fake) Stream(ctx context.Context, command, workDir string, sink transport.Sink) (transport.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	s := &FakeStream{sink: sink, done: make(chan struct{}), code: -1}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *Fake) SampleMetrics(ctx context.Context, prev metrics.Sample) (metrics.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample, nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	for _, s := range f.streams {
		s.Finish(-1)
	}
	return nil
}

// FakeStream is a running process driven by the test.
type FakeStream struct {
	sink transport.Sink
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	code   int
	inputs []string
}

// Emit delivers a line as if the process printed it.
func (s *FakeStream) Emit(src logbuf.Source, text string) {
	s.sink.Line(src, text)
}

// Finish ends the process with code.
func (s *FakeStream) Finish(code int) {
	s.once.Do(func() {
		s.mu.Lock()
		s.code = code
		s.mu.Unlock()
		close(s.done)
	})
}

// Inputs returns every line sent with SendInput.
func (s *FakeStream) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

func (s *FakeStream) SendInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	return nil
}

func (s *FakeStream) Stop(ctx context.Context) error {
	s.Finish(130)
	return nil
}

func (s *FakeStream) Done() <-chan struct{} { return s.done }
func (s *FakeStream) Err() error            { return nil }

func (s *FakeStream) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}
