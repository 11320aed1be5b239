package testing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ExecRequest is one exec on the test server.
type ExecRequest struct {
	Command string
	PTY     bool
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	// Signals receives signal names sent by the client.
	Signals <-chan string
	// Done is closed when the client closes the channel.
	Done <-chan struct{}
}

// Handler runs an exec request and returns its exit status.
type Handler func(req ExecRequest) uint32

// ServerOptions configures NewServer. An empty User accepts any user name.
type ServerOptions struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	Handler       Handler
}

// Server is an SSH server on 127.0.0.1 with an ephemeral port and host key.
type Server struct {
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig
	handler  Handler

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string
	closed   bool
	wg       sync.WaitGroup
}

// NewServer starts listening immediately. Call Close when done.
func NewServer(opts ServerOptions) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}

	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if (opts.User == "" || c.User() == opts.User) && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if opts.AuthorizedKey != nil {
		want := opts.AuthorizedKey.Marshal()
		config.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if (opts.User == "" || c.User() == opts.User) && bytes.Equal(key.Marshal(), want) {
				return nil, nil
			}
			return nil, fmt.Errorf("key rejected for %q", c.User())
		}
	}
	if config.PasswordCallback == nil && config.PublicKeyCallback == nil {
		config.NoClientAuth = true
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	handler := opts.Handler
	if handler == nil {
		handler = func(ExecRequest) uint32 { return 0 }
	}

	s := &Server{
		HostKey:  signer.PublicKey(),
		listener: ln,
		config:   config,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listen IP.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listen port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Commands returns every exec command received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// DropConnections closes every client connection without stopping the
// listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener, drops clients and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	var chWG sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		chWG.Add(1)
		go func() {
			defer chWG.Done()
			s.handleSession(ch, chReqs)
		}()
	}
	chWG.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	done := make(chan struct{})
	signals := make(chan string, 8)
	var pty bool
	var execWG sync.WaitGroup

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			pty = true
			_ = req.Reply(true, nil)
		case "env":
			_ = req.Reply(true, nil)
		case "signal":
			var msg struct{ Signal string }
			if ssh.Unmarshal(req.Payload, &msg) == nil {
				select {
				case signals <- msg.Signal:
				default:
				}
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "exec":
			var msg struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.commands = append(s.commands, msg.Command)
			s.mu.Unlock()
			_ = req.Reply(true, nil)

			execWG.Add(1)
			go func(cmd string, pty bool) {
				defer execWG.Done()
				status := s.handler(ExecRequest{
					Command: cmd,
					PTY:     pty,
					Stdin:   ch,
					Stdout:  ch,
					Stderr:  ch.Stderr(),
					Signals: signals,
					Done:    done,
				})
				_ = ch.CloseWrite()
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}(msg.Command, pty)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}

	close(done)
	execWG.Wait()
	ch.Close()
}

// EchoHandler answers "echo <text>" with text and fails anything else.
func EchoHandler(req ExecRequest) uint32 {
	const prefix = "echo "
	if len(req.Command) >= len(prefix) && req.Command[:len(prefix)] == prefix {
		fmt.Fprintln(req.Stdout, req.Command[len(prefix):])
		return 0
	}
	fmt.Fprintf(req.Stderr, "unsupported command: %s\n", req.Command)
	return 127
}
