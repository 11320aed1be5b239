package sshutil

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skarch/logpanel/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// buildClientConfig assembles auth methods and host key verification.
// Order: password (plain and keyboard-interactive), explicit key, key from
// ~/.ssh/config, agent, default keys. Encrypted keys that could not be used
// are recorded in settings.encryptedKeys for the error suggestion.
func buildClientConfig(settings *sshSettings, opts Options) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod
	tried := make(map[string]bool)

	tryKeyFile := func(keyPath string) error {
		if keyPath == "" || tried[keyPath] {
			return nil
		}
		tried[keyPath] = true
		keyAuth, err := keyFileAuth(keyPath, opts.Password)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return err
		}
		authMethods = append(authMethods, keyAuth)
		return nil
	}

	if opts.Password != "" {
		password := opts.Password
		authMethods = append(authMethods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if opts.KeyPath != "" {
		if err := tryKeyFile(opts.KeyPath); err != nil {
			var encErr *EncryptedKeyError
			if !stderrors.As(err, &encErr) {
				return nil, errors.WrapWithCode(err, errors.ErrSSH,
					fmt.Sprintf("Can't use private key %s", opts.KeyPath),
					"Check the key path in the server definition").
					WithReason(errors.AuthenticationFailed)
			}
		}
	}

	_ = tryKeyFile(settings.identityFile)

	if opts.UseAgent {
		if agentAuth := sshAgentAuth(); agentAuth != nil {
			authMethods = append(authMethods, agentAuth)
		}
	}

	if !opts.SkipDefaultKeys {
		for _, keyPath := range defaultKeyPaths() {
			if _, err := os.Stat(keyPath); err == nil {
				_ = tryKeyFile(keyPath)
			}
		}
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Set a password or private key for this server, or load a key into ssh-agent"
		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
			suggestion = authSuggestion(settings.encryptedKeys)
		}
		return nil, errors.New(errors.ErrSSH, msg, suggestion).WithReason(errors.AuthenticationFailed)
	}

	hostKeyCallback, err := hostKeyCallback(opts.HostKeyPolicy, opts.KnownHostsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to load known_hosts",
			"Check permissions on "+opts.KnownHostsPath+", or set ssh.host_key_policy").
			WithReason(errors.Unknown)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func defaultKeyPaths() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if it has keys.
// The agent connection is reused across connections.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file. An encrypted
// key is decrypted with passphrase when one is given; otherwise
// EncryptedKeyError is returned.
func keyFileAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return ssh.PublicKeys(signer), nil
	}

	var missing *ssh.PassphraseMissingError
	if stderrors.As(err, &missing) || isEncryptedPEM(key) {
		if passphrase != "" {
			signer, perr := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
			if perr == nil {
				return ssh.PublicKeys(signer), nil
			}
		}
		return nil, &EncryptedKeyError{Path: keyPath}
	}
	return nil, err
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}
