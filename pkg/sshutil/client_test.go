package sshutil_test

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/pkg/sshutil"
	sshtest "github.com/skarch/logpanel/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	testUser     = "dev"
	testPassword = "s3cret"
)

func startServer(t *testing.T, opts sshtest.ServerOptions) *sshtest.Server {
	t.Helper()
	if opts.Handler == nil {
		opts.Handler = sshtest.EchoHandler
	}
	srv, err := sshtest.NewServer(opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func passwordServer(t *testing.T, h sshtest.Handler) *sshtest.Server {
	return startServer(t, sshtest.ServerOptions{User: testUser, Password: testPassword, Handler: h})
}

func baseOptions(t *testing.T, srv *sshtest.Server) sshutil.Options {
	return sshutil.Options{
		User:            testUser,
		Password:        testPassword,
		Port:            srv.Port(),
		SkipDefaultKeys: true,
		HostKeyPolicy:   sshutil.HostKeyAcceptNew,
		KnownHostsPath:  filepath.Join(t.TempDir(), "known_hosts"),
		Timeout:         5 * time.Second,
	}
}

func dial(t *testing.T, srv *sshtest.Server, opts sshutil.Options) *sshutil.Client {
	t.Helper()
	client, err := sshutil.Dial(context.Background(), srv.Host(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDial_PasswordAndRun(t *testing.T) {
	srv := passwordServer(t, nil)
	client := dial(t, srv, baseOptions(t, srv))

	assert.Equal(t, srv.Host(), client.GetHost())
	assert.Equal(t, srv.Addr(), client.GetAddress())
	assert.True(t, sshutil.Alive(client))

	stdout, stderr, code, err := client.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", string(stdout))
	assert.Empty(t, stderr)
	assert.Equal(t, []string{"echo hello"}, srv.Commands())
}

func TestDial_WrongPassword(t *testing.T) {
	srv := passwordServer(t, nil)
	opts := baseOptions(t, srv)
	opts.Password = "wrong"

	_, err := sshutil.Dial(context.Background(), srv.Host(), opts)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Equal(t, errors.AuthenticationFailed, errors.ReasonOf(err))
}

func TestDial_NoAuthMethods(t *testing.T) {
	srv := passwordServer(t, nil)
	opts := baseOptions(t, srv)
	opts.Password = ""

	_, err := sshutil.Dial(context.Background(), srv.Host(), opts)
	require.Error(t, err)
	assert.Equal(t, errors.AuthenticationFailed, errors.ReasonOf(err))
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = sshutil.Dial(context.Background(), "127.0.0.1", sshutil.Options{
		User:            testUser,
		Password:        testPassword,
		Port:            port,
		SkipDefaultKeys: true,
		HostKeyPolicy:   sshutil.HostKeyOff,
		Timeout:         2 * time.Second,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ConnectionRefused, errors.ReasonOf(err))
}

func TestDial_HandshakeTimeout(t *testing.T) {
	// Accepts TCP but never speaks SSH.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for c := range accepted {
			c.Close()
		}
	})

	start := time.Now()
	_, err = sshutil.Dial(context.Background(), "127.0.0.1", sshutil.Options{
		User:            testUser,
		Password:        testPassword,
		Port:            ln.Addr().(*net.TCPAddr).Port,
		SkipDefaultKeys: true,
		HostKeyPolicy:   sshutil.HostKeyOff,
		Timeout:         200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, errors.Timeout, errors.ReasonOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDial_AcceptNewRecordsHostKey(t *testing.T) {
	srv := passwordServer(t, nil)
	opts := baseOptions(t, srv)

	dial(t, srv, opts).Close()

	data, err := os.ReadFile(opts.KnownHostsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), fmt.Sprintf("[127.0.0.1]:%d", srv.Port()))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))

	// Known now, so strict accepts it and nothing is appended.
	opts.HostKeyPolicy = sshutil.HostKeyStrict
	dial(t, srv, opts)

	again, err := os.ReadFile(opts.KnownHostsPath)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestDial_StrictRejectsUnknownHost(t *testing.T) {
	srv := passwordServer(t, nil)
	opts := baseOptions(t, srv)
	opts.HostKeyPolicy = sshutil.HostKeyStrict

	_, err := sshutil.Dial(context.Background(), srv.Host(), opts)
	require.Error(t, err)
	assert.Equal(t, errors.Unknown, errors.ReasonOf(err))
	assert.Contains(t, err.Error(), "is not in")
}

func TestDial_HostKeyMismatch(t *testing.T) {
	srv := passwordServer(t, nil)
	opts := baseOptions(t, srv)

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ssh.NewPublicKey(other)
	require.NoError(t, err)
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.Addr())}, otherKey)
	require.NoError(t, os.WriteFile(opts.KnownHostsPath, []byte(line+"\n"), 0o600))

	_, err = sshutil.Dial(context.Background(), srv.Host(), opts)
	require.Error(t, err)
	assert.Equal(t, errors.Unknown, errors.ReasonOf(err))
	assert.Contains(t, err.Error(), "host key mismatch")
}

func writeKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

func TestDial_PrivateKey(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		password   string
		wantErr    bool
	}{
		{name: "plain key"},
		{name: "encrypted key unlocked by password", passphrase: "pp", password: "pp"},
		{name: "encrypted key without passphrase", passphrase: "pp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyPath, pub := writeKey(t, tt.passphrase)
			srv := startServer(t, sshtest.ServerOptions{User: testUser, AuthorizedKey: pub})

			opts := baseOptions(t, srv)
			opts.Password = tt.password
			opts.KeyPath = keyPath

			client, err := sshutil.Dial(context.Background(), srv.Host(), opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.AuthenticationFailed, errors.ReasonOf(err))
				assert.Contains(t, err.Error(), "encrypted")
				return
			}
			require.NoError(t, err)
			client.Close()
		})
	}
}

func TestRun_NonZeroExitWithStderr(t *testing.T) {
	srv := passwordServer(t, func(req sshtest.ExecRequest) uint32 {
		fmt.Fprintln(req.Stdout, "partial")
		fmt.Fprintln(req.Stderr, "free: command not found")
		return 127
	})
	client := dial(t, srv, baseOptions(t, srv))

	stdout, stderr, code, err := client.Run(context.Background(), "free -m")
	require.NoError(t, err)
	assert.Equal(t, 127, code)
	assert.Equal(t, "partial\n", string(stdout))
	assert.Equal(t, "free: command not found\n", string(stderr))
}

func TestRun_ContextTimeout(t *testing.T) {
	srv := passwordServer(t, func(req sshtest.ExecRequest) uint32 {
		<-req.Done
		return 0
	})
	client := dial(t, srv, baseOptions(t, srv))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, code, err := client.Run(ctx, "sleep 100")
	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.Equal(t, errors.Timeout, errors.ReasonOf(err))
	assert.True(t, errors.IsCode(err, errors.ErrExec))
}

func TestStart_StreamsAndSignals(t *testing.T) {
	gotPTY := make(chan bool, 1)
	srv := passwordServer(t, func(req sshtest.ExecRequest) uint32 {
		gotPTY <- req.PTY
		fmt.Fprintln(req.Stdout, "server started")
		fmt.Fprintln(req.Stderr, "bind warning")
		select {
		case sig := <-req.Signals:
			fmt.Fprintln(req.Stdout, "got "+sig)
			return 143
		case <-req.Done:
			return 0
		}
	})
	client := dial(t, srv, baseOptions(t, srv))

	proc, err := client.Start(context.Background(), "./run.sh", sshutil.DefaultStartOptions())
	require.NoError(t, err)
	defer proc.Close()

	assert.True(t, <-gotPTY)

	errLines := make(chan string, 1)
	go func() {
		s := bufio.NewScanner(proc.Stderr())
		if s.Scan() {
			errLines <- s.Text()
		}
		_, _ = io.Copy(io.Discard, proc.Stderr())
	}()

	out := bufio.NewScanner(proc.Stdout())
	require.True(t, out.Scan())
	assert.Equal(t, "server started", out.Text())
	assert.Equal(t, "bind warning", <-errLines)

	require.NoError(t, proc.Signal("TERM"))
	require.True(t, out.Scan())
	assert.Equal(t, "got TERM", out.Text())

	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 143, code)
}

func TestStart_CancelClosesChannel(t *testing.T) {
	srv := passwordServer(t, func(req sshtest.ExecRequest) uint32 {
		<-req.Done
		return 0
	})
	client := dial(t, srv, baseOptions(t, srv))

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := client.Start(ctx, "tail -f app.log", sshutil.StartOptions{})
	require.NoError(t, err)
	go func() { _, _ = io.Copy(io.Discard, proc.Stdout()) }()
	go func() { _, _ = io.Copy(io.Discard, proc.Stderr()) }()

	cancel()

	done := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		done <- code
	}()
	select {
	case code := <-done:
		assert.Equal(t, -1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
