package transport

import (
	"context"
	"io"
	"sync"

	"github.com/skarch/logpanel/internal/errors"
)

// procStream holds the state common to SSH and local streams: the stdin
// writer, completion signalling and the exit status.
type procStream struct {
	stdin  io.Writer
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	inputMu  sync.Mutex
	err      error
	exitCode int
	finished bool
}

func newProcStream(stdin io.Writer, cancel context.CancelFunc) *procStream {
	return &procStream{
		stdin:    stdin,
		cancel:   cancel,
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

func (s *procStream) finish(code int, err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.exitCode = code
	s.err = err
	s.mu.Unlock()

	s.cancel()
	close(s.done)
}

func (s *procStream) Done() <-chan struct{} {
	return s.done
}

func (s *procStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *procStream) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *procStream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *procStream) SendInput(text string) error {
	if s.ended() {
		return errNotRunning()
	}

	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
		if s.ended() {
			return errNotRunning()
		}
		return errors.WrapWithCode(err, errors.ErrStream,
			"Failed to send input", "The process may have closed its input.").
			WithReason(errors.IOFailure)
	}
	return nil
}

// waitDone blocks until the stream ends or ctx is done.
func (s *procStream) waitDone(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func errNotRunning() error {
	return errors.New(errors.ErrStream, "The process is not running",
		"Start the server first.").WithReason(errors.NotRunning)
}

func errNotConnected(code string) error {
	return errors.New(code, "Not connected",
		"Connect to the server first.").WithReason(errors.NotConnected)
}

// pumpPair runs one reader goroutine per pipe and returns a channel that
// yields the first read error (or nil) once both have finished.
func pumpPair(ctx context.Context, stdout, stderr io.Reader,
	decode func([]byte) string, emitOut, emitErr func(string)) <-chan error {

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	run := func(r io.Reader, emit func(string)) {
		defer wg.Done()
		errs <- pumpLines(ctx, r, decode, emit)
	}

	wg.Add(2)
	go run(stdout, emitOut)
	go run(stderr, emitErr)

	result := make(chan error, 1)
	go func() {
		wg.Wait()
		close(errs)
		var first error
		for err := range errs {
			if err != nil && first == nil {
				first = err
			}
		}
		result <- first
	}()
	return result
}
