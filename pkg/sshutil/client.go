package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/skarch/logpanel/internal/errors"
	"golang.org/x/crypto/ssh"
)

// DefaultTimeout bounds dial plus handshake when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Host key policies.
const (
	HostKeyStrict    = "strict"
	HostKeyAcceptNew = "accept-new"
	HostKeyOff       = "off"
)

// Options controls how Dial authenticates and verifies the server.
type Options struct {
	// User overrides the user from ~/.ssh/config and the local user.
	User string
	// Port overrides the port from ~/.ssh/config when non-zero and not 22.
	Port     int
	Password string
	// KeyPath is tried before agent and default keys. If the key is
	// encrypted, Password is used as its passphrase.
	KeyPath  string
	UseAgent bool
	// UseSSHConfig resolves HostName, Port, User and IdentityFile from
	// ~/.ssh/config.
	UseSSHConfig bool
	// SkipDefaultKeys disables ~/.ssh/id_* probing.
	SkipDefaultKeys bool
	HostKeyPolicy   string
	KnownHostsPath  string
	Timeout         time.Duration
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)
}

// Dial establishes an SSH connection. The host can be an SSH config alias,
// a hostname, user@hostname or hostname:port. Dial and handshake together are
// bounded by opts.Timeout and by ctx.
func Dial(ctx context.Context, host string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	settings := resolveSettings(host, opts)

	config, err := buildClientConfig(settings, opts)
	if err != nil {
		var lpErr *errors.Error
		if stderrors.As(err, &lpErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't set up SSH for '%s'", host),
			"Check the key path and that your agent is running: ssh-add -l").
			WithReason(errors.Unknown)
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	address := settings.address()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("no answer within %s: %w", opts.Timeout, err)
		}
		return nil, connectError(host, address, err, nil)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(dialCtx, func() {
		_ = conn.SetDeadline(time.Now())
	})

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, connectError(host, address, err, settings.encryptedKeys)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the original host/alias used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// SendRequest sends a global request on the SSH connection. It is the
// cheapest way to check liveness.
func (c *Client) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.Client.SendRequest(name, wantReply, payload)
}

// Alive reports whether the connection still answers a keepalive.
func Alive(r Runner) bool {
	_, _, err := r.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// AliveWithin is Alive bounded by timeout and ctx. A connection that does
// not answer in time counts as dead; the caller should close it, which also
// releases the pending request.
func AliveWithin(ctx context.Context, r Runner, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	answered := make(chan bool, 1)
	go func() { answered <- Alive(r) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ok := <-answered:
		return ok
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
