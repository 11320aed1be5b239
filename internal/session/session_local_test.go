//go:build !windows

package session

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_LocalEchoEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	server := config.Server{
		ID:               3,
		Name:             "echoer",
		Type:             config.ServerLocal,
		WorkingDirectory: t.TempDir(),
		StartCommand:     "echo hello",
		OS:               config.OSLinux,
	}.WithDefaults()

	tr := transport.NewLocal(server, transport.LocalOptions{
		Options: transport.Options{Log: logger.Noop(), StopGrace: 500 * time.Millisecond},
	})
	s := New(server, tr, Options{BufferSize: 100, MetricsInterval: time.Hour, Log: logger.Noop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})

	_, _, sub := s.Subscribe(1024)
	defer sub.Close()

	require.NoError(t, s.Start(context.Background()))

	var sawRunning bool
	for {
		ev := nextEvent(t, sub, EventState)
		if ev.Status.Running {
			sawRunning = true
		}
		if sawRunning && !ev.Status.Running {
			break
		}
	}

	st := s.Status()
	assert.Equal(t, Connected, st.State)
	assert.True(t, st.Connected)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.LastExitCode)

	got := texts(s.Lines())
	assert.Contains(t, got, "hello")
	assert.Contains(t, got, "  cmd: echo hello")
	assert.True(t, hasLine(s, "▶ Starting echoer (run "+st.RunID[:8]+")"))
	assert.True(t, hasLine(s, "■ Process exited with code 0 (run "+st.RunID[:8]+", "))
}
