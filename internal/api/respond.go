package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skarch/logpanel/internal/errors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: errors.Summary(err), Reason: string(errors.ReasonOf(err))}
	var lpErr *errors.Error
	if stderrors.As(err, &lpErr) {
		body.Suggestion = lpErr.Suggestion
		body.Code = lpErr.Code
	}
	writeJSON(w, statusFor(err), body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Reason: string(errors.Rejected)})
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch errors.ReasonOf(err) {
	case errors.NotFound:
		return http.StatusNotFound
	case errors.Rejected, errors.NotConnected, errors.NotRunning:
		return http.StatusConflict
	case errors.Timeout:
		return http.StatusGatewayTimeout
	case errors.AuthenticationFailed, errors.ConnectionRefused, errors.HostUnresolved,
		errors.ChannelCreationFailed, errors.IOFailure:
		return http.StatusBadGateway
	}
	if errors.IsCode(err, errors.ErrConfig) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func serverID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		badRequest(w, "invalid server id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
