package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/metrics"
	"github.com/skarch/logpanel/pkg/sshutil"
	sshtest "github.com/skarch/logpanel/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sshServer() config.Server {
	return config.Server{
		ID:               1,
		Name:             "web",
		Type:             config.ServerSSH,
		Host:             "10.0.0.5",
		Port:             22,
		User:             "deploy",
		Password:         "pw",
		WorkingDirectory: "/srv/app",
		StartCommand:     "./run.sh",
		OS:               config.OSLinux,
	}
}

// mockTransport returns an SSH transport whose dials hand out m.
func mockTransport(t *testing.T, m *sshtest.MockClient) (*SSH, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	tr := NewSSH(sshServer(), SSHOptions{
		Options: Options{Log: logger.Noop(), StopGrace: 200 * time.Millisecond},
		Dial: func(ctx context.Context, host string, opts sshutil.Options) (sshutil.Runner, error) {
			dials.Add(1)
			assert.Equal(t, "10.0.0.5", host)
			assert.Equal(t, "deploy", opts.User)
			assert.Equal(t, "pw", opts.Password)
			return m, nil
		},
	})
	return tr, &dials
}

func TestSSH_NotConnected(t *testing.T) {
	tr, _ := mockTransport(t, sshtest.NewMockClient("web"))
	ctx := context.Background()

	assert.False(t, tr.Connected())

	_, err := tr.Run(ctx, "uptime")
	assert.True(t, errors.IsReason(err, errors.NotConnected))

	_, err = tr.Stream(ctx, "./run.sh", "/srv/app", &collector{})
	assert.True(t, errors.IsReason(err, errors.NotConnected))

	_, err = tr.SampleMetrics(ctx, metrics.Sample{})
	assert.True(t, errors.IsReason(err, errors.NotConnected))

	assert.NoError(t, tr.Disconnect())
}

func TestSSH_ConnectIsIdempotent(t *testing.T) {
	m := sshtest.NewMockClient("web")
	tr, dials := mockTransport(t, m)
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx, time.Second))
	require.NoError(t, tr.Connect(ctx, time.Second))
	assert.Equal(t, int32(1), dials.Load())
	assert.True(t, tr.Connected())

	// A dead connection is replaced.
	m.Drop()
	require.NoError(t, tr.Connect(ctx, time.Second))
	assert.Equal(t, int32(2), dials.Load())

	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.Connected())
	require.NoError(t, tr.Disconnect())
}

func TestSSH_ConnectDoesNotHangOnStalledConnection(t *testing.T) {
	m := sshtest.NewMockClient("web")
	tr, dials := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	m.Stall()
	start := time.Now()
	require.NoError(t, tr.Connect(ctx, 100*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(2), dials.Load(), "unanswered keepalive forces a redial")
	assert.True(t, m.Closed())
}

func TestSSH_ConnectFailureKeepsReason(t *testing.T) {
	tr := NewSSH(sshServer(), SSHOptions{
		Options: Options{Log: logger.Noop()},
		Dial: func(context.Context, string, sshutil.Options) (sshutil.Runner, error) {
			return nil, fmt.Errorf("dial tcp 10.0.0.5:22: connect: connection refused")
		},
	})

	err := tr.Connect(context.Background(), time.Second)
	require.Error(t, err)
	assert.Equal(t, errors.ConnectionRefused, errors.ReasonOf(err))
	assert.False(t, tr.Connected())
}

func TestSSH_Run(t *testing.T) {
	m := sshtest.NewMockClient("web")
	m.SetCommandResponse("uptime", sshtest.CommandResponse{Stdout: []byte("up 2 days\n")})
	m.SetCommandResponse("grep x missing", sshtest.CommandResponse{
		Stderr:   []byte("grep: missing: No such file or directory\n"),
		ExitCode: 2,
	})
	m.SetCommandResponse("false", sshtest.CommandResponse{ExitCode: 1})

	tr, _ := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	out, err := tr.Run(ctx, "uptime")
	require.NoError(t, err)
	assert.Equal(t, "up 2 days\n", out.Stdout)

	out, err = tr.Run(ctx, "grep x missing")
	require.Error(t, err)
	assert.Equal(t, errors.NonZeroStderr, errors.ReasonOf(err))
	assert.Contains(t, err.Error(), "No such file")
	assert.Equal(t, 2, out.ExitCode)

	// A non-zero status without stderr is not an error.
	out, err = tr.Run(ctx, "false")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
}

func TestSSH_SampleMetrics_PartialFailure(t *testing.T) {
	m := sshtest.NewMockClient("web")
	m.SetCommandResponse(`^top `, sshtest.CommandResponse{Stdout: []byte("42.0\n")})
	m.SetCommandResponse(`^free `, sshtest.CommandResponse{Stderr: []byte("free: command not found\n"), ExitCode: 127})
	m.SetCommandResponse(`^cat /proc/net/dev$`, sshtest.CommandResponse{Error: fmt.Errorf("channel refused")})

	tr, _ := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	prev := metrics.Sample{CPUPercent: 10, RAMPercent: 55, NetworkMBps: 1.5, Time: time.Unix(100, 0)}
	got, err := tr.SampleMetrics(ctx, prev)

	require.Error(t, err)
	assert.Equal(t, errors.PartialFailure, errors.ReasonOf(err))
	assert.InDelta(t, 42.0, got.CPUPercent, 0.001)
	assert.InDelta(t, 55.0, got.RAMPercent, 0.001)
	assert.InDelta(t, 1.5, got.NetworkMBps, 0.001)
	assert.True(t, got.Time.After(prev.Time))
}

func TestSSH_SampleMetrics_TotalFailure(t *testing.T) {
	m := sshtest.NewMockClient("web")
	tr, _ := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	prev := metrics.Sample{CPUPercent: 10, RAMPercent: 20, Time: time.Unix(100, 0)}
	got, err := tr.SampleMetrics(ctx, prev)
	require.Error(t, err)
	assert.Equal(t, errors.TotalFailure, errors.ReasonOf(err))
	assert.Equal(t, prev, got)
}

func TestSSH_SampleMetrics_Windows(t *testing.T) {
	m := sshtest.NewMockClient("win")
	m.SetCommandResponse(metrics.WindowsCommands.CPU, sshtest.CommandResponse{Stdout: []byte("\r\nLoadPercentage=30\r\n")})
	m.SetCommandResponse(metrics.WindowsCommands.RAM, sshtest.CommandResponse{
		Stdout: []byte("FreePhysicalMemory=2000\r\nTotalVisibleMemorySize=8000\r\n"),
	})
	m.SetCommandResponse(metrics.WindowsCommands.Net, sshtest.CommandResponse{
		Stdout: []byte("Interface Statistics\r\n\r\n                           Received            Sent\r\n\r\nBytes                    1000            2000\r\n"),
	})

	srv := sshServer()
	srv.OS = config.OSWindows
	tr := NewSSH(srv, SSHOptions{
		Options: Options{Log: logger.Noop()},
		Dial: func(context.Context, string, sshutil.Options) (sshutil.Runner, error) {
			return m, nil
		},
	})
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	got, err := tr.SampleMetrics(ctx, metrics.Sample{})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got.CPUPercent, 0.001)
	assert.InDelta(t, 75.0, got.RAMPercent, 0.001)
	// First network reading has no rate yet.
	assert.Equal(t, 0.0, got.NetworkMBps)
}

func TestSSH_StreamWithMock(t *testing.T) {
	m := sshtest.NewMockClient("web")
	m.SetCommandResponse("cd '/srv/app' && ./run.sh", sshtest.CommandResponse{
		Stdout: []byte("starting\n\nlistening on :8080\n"),
		Stderr: []byte("deprecated flag\n"),
		Hold:   true,
	})

	tr, _ := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	sink := &collector{}
	s, err := tr.Stream(ctx, "./run.sh", "/srv/app", sink)
	require.NoError(t, err)

	sink.waitFor(t, logbuf.Stdout, "listening on :8080")
	sink.waitFor(t, logbuf.Stderr, "[ERROR] deprecated flag")
	assert.Equal(t, []string{"starting", "listening on :8080"}, sink.texts(logbuf.Stdout))

	require.NoError(t, s.SendInput("status"))
	proc := m.Processes()[0]
	assert.Equal(t, "status\n", proc.StdinString())
	assert.True(t, proc.Options.PTY)
	assert.Equal(t, 80, proc.Options.Cols)
	assert.Equal(t, 40, proc.Options.Rows)

	require.NoError(t, s.Stop(ctx))
	waitDone(t, s)
	assert.Equal(t, []string{"INT"}, proc.Signals())
	assert.Equal(t, 130, s.ExitCode())
	assert.NoError(t, s.Err())

	err = s.SendInput("late")
	assert.True(t, errors.IsReason(err, errors.NotRunning))
	assert.NoError(t, s.Stop(ctx))
}

func TestSSH_StreamEndsWhenConnectionDrops(t *testing.T) {
	m := sshtest.NewMockClient("web")
	m.SetCommandResponse(`run\.sh`, sshtest.CommandResponse{Hold: true})

	tr, _ := mockTransport(t, m)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, time.Second))

	s, err := tr.Stream(ctx, "./run.sh", "", &collector{})
	require.NoError(t, err)

	m.Drop()
	waitDone(t, s)
	assert.Equal(t, -1, s.ExitCode())
}

func TestRemoteCommand(t *testing.T) {
	tests := []struct {
		name string
		os   config.OSType
		dir  string
		want string
	}{
		{"linux", config.OSLinux, "/srv/app", "cd '/srv/app' && ./run.sh"},
		{"linux home", config.OSLinux, "~/my app", "cd ~/'my app' && ./run.sh"},
		{"windows", config.OSWindows, `C:\srv\app`, `cd /d "C:\srv\app" && ./run.sh`},
		{"no dir", config.OSLinux, "", "./run.sh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, remoteCommand(tt.os, tt.dir, "./run.sh"))
		})
	}
}

// TestSSH_EndToEnd drives a real SSH connection against the in-process
// server: connect, one-shot exec, a streamed process with stdin, and stop.
func TestSSH_EndToEnd(t *testing.T) {
	srv, err := sshtest.NewServer(sshtest.ServerOptions{
		User:     "deploy",
		Password: "pw",
		Handler: func(req sshtest.ExecRequest) uint32 {
			switch req.Command {
			case "echo hello":
				fmt.Fprintln(req.Stdout, "hello")
				return 0
			case "cd '/srv/app' && ./run.sh":
				fmt.Fprintln(req.Stdout, "ready")
				fmt.Fprintln(req.Stderr, "disk almost full")
				buf := make([]byte, 64)
				n, _ := req.Stdin.Read(buf)
				fmt.Fprintf(req.Stdout, "input: %q\n", string(buf[:n]))
				select {
				case <-req.Signals:
				case <-req.Done:
				}
				return 130
			}
			return 127
		},
	})
	require.NoError(t, err)
	defer srv.Close()

	s := sshServer()
	s.Host = srv.Host()
	s.Port = srv.Port()

	tr := NewSSH(s, SSHOptions{
		Options:        Options{Log: logger.Noop(), StopGrace: 2 * time.Second},
		HostKeyPolicy:  sshutil.HostKeyAcceptNew,
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
	})
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx, 5*time.Second))
	defer tr.Disconnect()

	out, err := tr.Run(ctx, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)

	sink := &collector{}
	stream, err := tr.Stream(ctx, "./run.sh", "/srv/app", sink)
	require.NoError(t, err)

	sink.waitFor(t, logbuf.Stdout, "ready")
	sink.waitFor(t, logbuf.Stderr, "[ERROR] disk almost full")

	require.NoError(t, stream.SendInput("reload"))
	sink.waitFor(t, logbuf.Stdout, `input: "reload\n"`)

	require.NoError(t, stream.Stop(ctx))
	waitDone(t, stream)
	assert.Equal(t, 130, stream.ExitCode())
}
