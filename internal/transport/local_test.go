//go:build !windows

package transport

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, dir string, prober metrics.Prober) *Local {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	s := config.Server{
		ID:               2,
		Name:             "dev",
		Type:             config.ServerLocal,
		WorkingDirectory: dir,
		OS:               config.OSLinux,
	}.WithDefaults()

	return NewLocal(s, LocalOptions{
		Options: Options{Log: logger.Noop(), StopGrace: 500 * time.Millisecond},
		Prober:  prober,
	})
}

func connectedLocal(t *testing.T, dir string) *Local {
	t.Helper()
	tr := newLocal(t, dir, nil)
	require.NoError(t, tr.Connect(context.Background(), time.Second))
	return tr
}

func TestLocal_ConnectIsIdempotent(t *testing.T) {
	tr := newLocal(t, t.TempDir(), nil)
	ctx := context.Background()

	assert.False(t, tr.Connected())
	require.NoError(t, tr.Connect(ctx, time.Second))
	require.NoError(t, tr.Connect(ctx, time.Second))
	assert.True(t, tr.Connected())

	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.Connected())
}

func TestLocal_ConnectMissingShell(t *testing.T) {
	tr := NewLocal(config.Server{Type: config.ServerLocal}, LocalOptions{
		Options: Options{Log: logger.Noop()},
		Shell:   "definitely-not-a-shell-xyz",
	})
	err := tr.Connect(context.Background(), time.Second)
	require.Error(t, err)
	assert.False(t, tr.Connected())
}

func TestLocal_Run(t *testing.T) {
	dir := t.TempDir()
	tr := connectedLocal(t, dir)
	ctx := context.Background()

	out, err := tr.Run(ctx, "pwd")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir + "\n", resolved + "\n"}, out.Stdout)

	out, err = tr.Run(ctx, "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, errors.NonZeroStderr, errors.ReasonOf(err))
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "oops\n", out.Stderr)
}

func TestLocal_RunTimeout(t *testing.T) {
	tr := newLocal(t, t.TempDir(), nil)
	tr.opts.ExecTimeout = 100 * time.Millisecond
	require.NoError(t, tr.Connect(context.Background(), time.Second))

	_, err := tr.Run(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.Equal(t, errors.Timeout, errors.ReasonOf(err))
}

func TestLocal_StreamEndsWithProcess(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "echo hello", "", sink)
	require.NoError(t, err)

	waitDone(t, s)
	assert.Equal(t, []string{"hello"}, sink.texts(logbuf.Stdout))
	assert.Equal(t, 0, s.ExitCode())
	assert.NoError(t, s.Err())
	assert.True(t, errors.IsReason(s.SendInput("x"), errors.NotRunning))
}

func TestLocal_StreamExitStatusAndStderr(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "echo bad >&2; echo; false", "", sink)
	require.NoError(t, err)

	waitDone(t, s)
	assert.Equal(t, []string{"bad"}, sink.texts(logbuf.Stderr))
	assert.Empty(t, sink.texts(logbuf.Stdout))
	assert.Equal(t, 1, s.ExitCode())
}

func TestLocal_StreamRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here\n"), 0o644))
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "cat marker.txt", dir, sink)
	require.NoError(t, err)
	waitDone(t, s)
	assert.Equal(t, []string{"here"}, sink.texts(logbuf.Stdout))
}

func TestLocal_StreamMissingWorkDir(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())

	_, err := tr.Stream(context.Background(), "true", filepath.Join(t.TempDir(), "gone"), &collector{})
	require.Error(t, err)
	assert.Equal(t, errors.ChannelCreationFailed, errors.ReasonOf(err))
}

func TestLocal_SendInput(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "read name; echo \"hi $name\"", "", sink)
	require.NoError(t, err)

	require.NoError(t, s.SendInput("panel"))
	waitDone(t, s)
	assert.Equal(t, []string{"hi panel"}, sink.texts(logbuf.Stdout))
}

func TestLocal_StopTerminatesTree(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "echo up; sleep 30; echo never", "", sink)
	require.NoError(t, err)
	sink.waitFor(t, logbuf.Stdout, "up")

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	waitDone(t, s)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, []string{"up"}, sink.texts(logbuf.Stdout))
	assert.NoError(t, s.Stop(ctx))
}

func TestLocal_StopKillsAfterGrace(t *testing.T) {
	tr := connectedLocal(t, t.TempDir())
	sink := &collector{}

	s, err := tr.Stream(context.Background(), "trap '' TERM; echo armed; while true; do sleep 0.1; done", "", sink)
	require.NoError(t, err)
	sink.waitFor(t, logbuf.Stdout, "armed")

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	waitDone(t, s)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestLocal_SampleMetrics(t *testing.T) {
	prober := metrics.ProberFunc(func(ctx context.Context, f metrics.Field) (float64, error) {
		switch f {
		case metrics.CPU:
			return 12.5, nil
		case metrics.RAM:
			return 40, nil
		default:
			return 0.25, nil
		}
	})
	tr := newLocal(t, t.TempDir(), prober)
	ctx := context.Background()

	_, err := tr.SampleMetrics(ctx, metrics.Sample{})
	assert.True(t, errors.IsReason(err, errors.NotConnected))

	require.NoError(t, tr.Connect(ctx, time.Second))
	got, err := tr.SampleMetrics(ctx, metrics.Sample{})
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.CPUPercent)
	assert.Equal(t, 40.0, got.RAMPercent)
	assert.Equal(t, 0.25, got.NetworkMBps)
	assert.False(t, got.IsZero())
}
