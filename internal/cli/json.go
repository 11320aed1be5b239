package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"

	"github.com/skarch/logpanel/internal/errors"
)

// Machine mode flag - when true, outputs JSON and suppresses human-friendly decorations
var machineMode bool

// MachineMode returns true if machine-readable output is enabled
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeServerNotFound    = "SERVER_NOT_FOUND"
	ErrCodeSSHTimeout        = "SSH_TIMEOUT"
	ErrCodeSSHAuthFailed     = "SSH_AUTH_FAILED"
	ErrCodeSSHConnectionFail = "SSH_CONNECTION_FAILED"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeNotRunning        = "NOT_RUNNING"
	ErrCodeRejected          = "REJECTED"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeStreamFailed      = "STREAM_FAILED"
	ErrCodeAnalysisFailed    = "ANALYSIS_FAILED"
	ErrCodeUnknown           = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONError writes an error response to the writer.
func WriteJSONError(w io.Writer, code, message, suggestion string, details interface{}) error {
	env := JSONEnvelope{
		Success: false,
		Error: &JSONError{
			Code:       code,
			Message:    message,
			Suggestion: suggestion,
			Details:    details,
		},
	}
	return writeJSONEnvelope(w, env)
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

// writeJSONEnvelope writes the envelope with consistent formatting.
func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var lpErr *errors.Error
	if stderrors.As(err, &lpErr) {
		out := &JSONError{
			Code:       mapErrorCode(lpErr.Code, lpErr.Message, errors.ReasonOf(err)),
			Message:    lpErr.Summary(),
			Suggestion: lpErr.Suggestion,
		}
		if r := errors.ReasonOf(err); r != "" {
			out.Details = map[string]interface{}{"reason": string(r)}
		}
		return out
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

// mapErrorCode maps internal codes and reasons to machine-readable codes.
// Reasons are more specific, so they win.
func mapErrorCode(internalCode, message string, reason errors.Reason) string {
	switch reason {
	case errors.NotFound:
		return ErrCodeServerNotFound
	case errors.AuthenticationFailed:
		return ErrCodeSSHAuthFailed
	case errors.Timeout:
		return ErrCodeSSHTimeout
	case errors.ConnectionRefused, errors.HostUnresolved:
		return ErrCodeSSHConnectionFail
	case errors.NotConnected:
		return ErrCodeNotConnected
	case errors.NotRunning:
		return ErrCodeNotRunning
	case errors.Rejected:
		return ErrCodeRejected
	case errors.NonZeroStderr:
		return ErrCodeCommandFailed
	}

	switch internalCode {
	case errors.ErrConfig:
		msgLower := strings.ToLower(message)
		if strings.Contains(msgLower, "not found") || strings.Contains(msgLower, "couldn't find") {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrSSH:
		return ErrCodeSSHConnectionFail
	case errors.ErrExec:
		return ErrCodeCommandFailed
	case errors.ErrStream:
		return ErrCodeStreamFailed
	case errors.ErrAnalysis:
		return ErrCodeAnalysisFailed
	}
	return ErrCodeUnknown
}
