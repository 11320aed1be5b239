package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/session"
)

// serverView is a server definition as returned by the API. The password
// is never echoed back.
type serverView struct {
	config.Server
	HasPassword bool `json:"hasPassword"`
}

func viewServer(s config.Server) serverView {
	v := serverView{Server: s, HasPassword: s.Password != ""}
	v.Password = ""
	return v
}

// lineView adds the computed level to a log line.
type lineView struct {
	logbuf.Line
	Level string `json:"level"`
}

func viewLines(lines []logbuf.Line) []lineView {
	out := make([]lineView, len(lines))
	for i, l := range lines {
		out[i] = lineView{Line: l, Level: l.Level().String()}
	}
	return out
}

type logsResponse struct {
	Lines   []lineView `json:"lines"`
	LastSeq uint64     `json:"lastSeq"`
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers := s.panel.Servers()
	out := make([]serverView, len(servers))
	for i, srv := range servers {
		out[i] = viewServer(srv)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createServer(w http.ResponseWriter, r *http.Request) {
	var body config.Server
	if !decodeBody(w, r, &body) {
		return
	}
	srv, err := s.panel.AddServer(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewServer(srv))
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	srv, err := s.panel.Server(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewServer(srv))
}

// updateServer replaces a definition. An omitted password keeps the stored
// one, since responses never include it.
func (s *Server) updateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body config.Server
	if !decodeBody(w, r, &body) {
		return
	}
	existing, err := s.panel.Server(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Password == "" {
		body.Password = existing.Password
	}
	srv, err := s.panel.EditServer(id, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewServer(srv))
}

func (s *Server) deleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	if err := s.panel.DeleteServer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lifecycle adapts a panel operation into a handler that answers with the
// resulting status.
func (s *Server) lifecycle(op func(ctx context.Context, id int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := serverID(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		s.writeStatus(w, id)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	s.writeStatus(w, id)
}

func (s *Server) writeStatus(w http.ResponseWriter, id int) {
	st, err := s.panel.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) sendInput(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.panel.SendInput(id, body.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// execute runs a one-shot command. Output that failed only because of
// stderr is still returned, with the failure in "error".
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Command == "" {
		badRequest(w, "command is required")
		return
	}

	out, err := s.panel.Execute(r.Context(), id, body.Command)
	resp := struct {
		Output interface{} `json:"output"`
		Error  string      `json:"error,omitempty"`
	}{Output: out}
	if err != nil {
		if !errors.IsReason(err, errors.NonZeroStderr) {
			writeError(w, err)
			return
		}
		resp.Error = errors.Summary(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := serverID(w, r)
	if !ok {
		return nil, false
	}
	sess, err := s.panel.Session(id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(w, "since must be a sequence number")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, logsResponse{
		Lines:   viewLines(sess.Since(since)),
		LastSeq: sess.Buffer().LastSeq(),
	})
}

func (s *Server) errorLines(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{
		Lines:   viewLines(sess.ErrorLines()),
		LastSeq: sess.Buffer().LastSeq(),
	})
}

func (s *Server) removeLine(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	n, err := s.panel.RemoveLine(id, body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body struct {
		Text    string `json:"text"`
		Refresh bool   `json:"refresh"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.panel.Analyze(r.Context(), id, body.Text, body.Refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) followUp(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	var body struct {
		Text     string `json:"text"`
		Previous string `json:"previous"`
		Question string `json:"question"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.panel.FollowUp(r.Context(), id, body.Text, body.Previous, body.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
