package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors by subsystem
const (
	ErrConfig   = "CONFIG"
	ErrSSH      = "SSH"
	ErrExec     = "EXEC"
	ErrStream   = "STREAM"
	ErrMetrics  = "METRICS"
	ErrSession  = "SESSION"
	ErrAnalysis = "ANALYSIS"
)

// Reason narrows a failure down to something callers can branch on.
type Reason string

// Connect failures.
const (
	AuthenticationFailed Reason = "AuthenticationFailed"
	ConnectionRefused    Reason = "ConnectionRefused"
	Timeout              Reason = "Timeout"
	HostUnresolved       Reason = "HostUnresolved"
	Unknown              Reason = "Unknown"
)

// Exec, stream and metrics failures.
const (
	NonZeroStderr         Reason = "NonZeroStderr"
	ChannelCreationFailed Reason = "ChannelCreationFailed"
	NotConnected          Reason = "NotConnected"
	NotRunning            Reason = "NotRunning"
	IOFailure             Reason = "IOFailure"
	PartialFailure        Reason = "PartialFailure"
	TotalFailure          Reason = "TotalFailure"
	Rejected              Reason = "Rejected"
	NotFound              Reason = "NotFound"
)

// Error represents a structured error with code, reason, message, suggestion,
// and optional cause. It renders as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Reason     Reason
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// WithReason sets the reason and returns the same error for chaining.
func (e *Error) WithReason(r Reason) *Error {
	e.Reason = r
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Summary is the single-line form used for log lines and notifications.
func (e *Error) Summary() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, firstLine(e.Cause.Error()))
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var lpErr *Error
	if errors.As(err, &lpErr) {
		return lpErr.Code == code
	}
	return false
}

// IsReason reports whether any structured Error in the chain carries r.
func IsReason(err error, r Reason) bool {
	return ReasonOf(err) == r && r != ""
}

// ReasonOf returns the first non-empty reason in the error chain.
func ReasonOf(err error) Reason {
	for err != nil {
		var lpErr *Error
		if !errors.As(err, &lpErr) {
			return ""
		}
		if lpErr.Reason != "" {
			return lpErr.Reason
		}
		err = lpErr.Cause
	}
	return ""
}

// Summary returns a one-line description of any error.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var lpErr *Error
	if errors.As(err, &lpErr) {
		return lpErr.Summary()
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "✗"))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// ExitError carries a process exit status up to main without a message.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError with the given status.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the status from an ExitError anywhere in the chain.
func GetExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
