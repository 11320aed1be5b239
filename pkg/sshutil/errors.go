package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"syscall"

	"github.com/skarch/logpanel/internal/errors"
)

// ClassifyError maps a dial or handshake failure to a connect reason.
func ClassifyError(err error) errors.Reason {
	if err == nil {
		return ""
	}

	var hostKeyErr *HostKeyMismatchError
	if stderrors.As(err, &hostKeyErr) {
		return errors.Unknown
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return errors.Timeout
		}
		return errors.HostUnresolved
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) {
		return errors.ConnectionRefused
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Timeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods"),
		strings.Contains(msg, "permission denied"):
		return errors.AuthenticationFailed
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "actively refused"):
		return errors.ConnectionRefused
	case strings.Contains(msg, "no such host"),
		strings.Contains(msg, "name resolution"),
		strings.Contains(msg, "unknown host"):
		return errors.HostUnresolved
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return errors.Timeout
	}
	return errors.Unknown
}

// connectError builds the structured error for a failed Dial.
func connectError(host, address string, err error, encryptedKeys []string) *errors.Error {
	var hostKeyErr *HostKeyMismatchError
	if stderrors.As(err, &hostKeyErr) {
		return errors.New(errors.ErrSSH, hostKeyErr.Error(), hostKeyErr.Suggestion()).
			WithReason(errors.Unknown)
	}

	reason := ClassifyError(err)

	var msg, suggestion string
	switch reason {
	case errors.AuthenticationFailed:
		msg = fmt.Sprintf("Authentication to '%s' failed", host)
		suggestion = authSuggestion(encryptedKeys)
	case errors.ConnectionRefused:
		msg = fmt.Sprintf("'%s' refused the connection at %s", host, address)
		suggestion = "Is SSH running on that box, and is the port right?"
	case errors.Timeout:
		msg = fmt.Sprintf("Connecting to '%s' at %s timed out", host, address)
		suggestion = "Host might be offline or blocked by a firewall."
	case errors.HostUnresolved:
		msg = fmt.Sprintf("Can't resolve host '%s'", host)
		suggestion = "Check the hostname for typos, or add it to ~/.ssh/config."
	default:
		msg = fmt.Sprintf("Can't connect to '%s' at %s", host, address)
		suggestion = "Make sure the host is reachable: ssh " + host
	}

	return errors.WrapWithCode(err, errors.ErrSSH, msg, suggestion).WithReason(reason)
}

func authSuggestion(encryptedKeys []string) string {
	if len(encryptedKeys) == 0 {
		return "Check the user name and password or key for this server."
	}
	var sb strings.Builder
	sb.WriteString("Your key(s) are encrypted. Add them to the agent or set the password as passphrase:\n")
	for _, key := range encryptedKeys {
		if runtime.GOOS == "darwin" {
			sb.WriteString(fmt.Sprintf("  ssh-add --apple-use-keychain %s\n", key))
		} else {
			sb.WriteString(fmt.Sprintf("  ssh-add %s\n", key))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
