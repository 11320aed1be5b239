package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/stretchr/testify/require"
)

// fakeTransport records calls and lets tests drive the process lifecycle.
type fakeTransport struct {
	connects    atomic.Int32
	disconnects atomic.Int32

	mu         sync.Mutex
	connected  bool
	gate       chan struct{}
	streamGate chan struct{}
	connectErr error
	streamErr  error
	out        transport.Output
	runErr     error
	sample     metrics.Sample
	sampleErr  error
	streams    []*fakeStream
	commands   []string
}

func (f *fakeTransport) Connect(ctx context.Context, timeout time.Duration) error {
	f.connects.Add(1)
	f.mu.Lock()
	gate, err := f.gate, f.connectErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Run(ctx context.Context, command string) (transport.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.out, f.runErr
}

func (f *fakeTransport) Stream(ctx context.Context, command, workDir string, sink transport.Sink) (transport.Stream, error) {
	f.mu.Lock()
	gate := f.streamGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	st := &fakeStream{sink: sink, done: make(chan struct{}), code: -1}
	f.streams = append(f.streams, st)
	return st, nil
}

func (f *fakeTransport) SampleMetrics(ctx context.Context, prev metrics.Sample) (metrics.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sampleErr != nil && errors.IsReason(f.sampleErr, errors.TotalFailure) {
		return prev, f.sampleErr
	}
	return f.sample, f.sampleErr
}

func (f *fakeTransport) Disconnect() error {
	f.disconnects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	for _, st := range f.streams {
		st.finish(-1)
	}
	return nil
}

func (f *fakeTransport) lastStream(t *testing.T) *fakeStream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.streams, "no stream started")
	return f.streams[len(f.streams)-1]
}

type fakeStream struct {
	sink transport.Sink
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	code    int
	inputs  []string
	stopErr error
	stops   int
}

func (s *fakeStream) emit(src logbuf.Source, text string) {
	s.sink.Line(src, text)
}

func (s *fakeStream) finish(code int) {
	s.once.Do(func() {
		s.mu.Lock()
		s.code = code
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeStream) SendInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	return nil
}

func (s *fakeStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stops++
	err := s.stopErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.finish(130)
	return nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) Err() error            { return nil }

func (s *fakeStream) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func sshServer() config.Server {
	return config.Server{
		ID: 1, Name: "web-1", Type: config.ServerSSH, Host: "10.0.0.5", Port: 22,
		User: "deploy", StartCommand: "./serve", WorkingDirectory: "/srv/app", OS: config.OSLinux,
	}
}

func localServer() config.Server {
	return config.Server{
		ID: 2, Name: "dev", Type: config.ServerLocal, Host: "localhost", User: "local",
		StartCommand: "npm start", OS: config.OSLinux,
	}
}

func newTestSession(t *testing.T, server config.Server) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	s := New(server, tr, Options{
		BufferSize:      100,
		MetricsInterval: time.Hour,
		Log:             logger.Noop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, tr
}

func texts(lines []logbuf.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func hasLine(s *Session, prefix string) bool {
	for _, l := range s.Lines() {
		if len(l.Text) >= len(prefix) && l.Text[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// nextEvent returns the next event of kind, skipping others.
func nextEvent(t *testing.T, sub *Subscription, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "subscription closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}
