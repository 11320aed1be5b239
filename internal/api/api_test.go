package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skarch/logpanel/internal/analysis"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/panel"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/skarch/logpanel/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, logText string) (string, error) {
	return "explained: " + logText, nil
}

func (stubAnalyzer) FollowUp(ctx context.Context, logText, previous, question string) (string, error) {
	return "answer to " + question, nil
}

type testAPI struct {
	srv *httptest.Server

	mu    sync.Mutex
	fakes map[int]*transporttest.Fake
}

func (a *testAPI) fake(id int) *transporttest.Fake {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fakes[id]
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	a := &testAPI{fakes: map[int]*transporttest.Fake{}}
	registry := session.NewRegistry(session.Options{MetricsInterval: time.Hour, Log: logger.Noop()},
		func(s config.Server) transport.Transport {
			a.mu.Lock()
			defer a.mu.Unlock()
			f := transporttest.New()
			a.fakes[s.ID] = f
			return f
		})
	p := panel.New(panel.Options{
		Config:   cfg,
		Store:    config.NewServerStore(filepath.Join(dir, config.ServersFileName), logger.Noop()),
		Registry: registry,
		Cache:    analysis.NewCache(filepath.Join(dir, config.AnalysisCacheFileName), logger.Noop()),
		Analyzer: stubAnalyzer{},
		Log:      logger.Noop(),
	})
	a.srv = httptest.NewServer(New(p, logger.Noop()).Handler())
	t.Cleanup(func() {
		a.srv.Close()
		p.Close(context.Background())
	})
	return a
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) addLocal(t *testing.T) int {
	t.Helper()
	var created serverView
	code := a.do(t, http.MethodPost, "/api/servers", config.Server{
		Name: "dev", Type: config.ServerLocal, WorkingDirectory: "/tmp", StartCommand: "npm start",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	return created.ID
}

func TestAPI_ServerCRUD(t *testing.T) {
	a := newTestAPI(t)

	var created serverView
	code := a.do(t, http.MethodPost, "/api/servers", config.Server{
		Name: "web-1", Type: config.ServerSSH, Host: "10.0.0.5", User: "deploy", Password: "s3cret",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, 22, created.Port)
	assert.Empty(t, created.Password, "passwords are not echoed")
	assert.True(t, created.HasPassword)

	var list []serverView
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/servers", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "web-1", list[0].Name)

	var updated serverView
	code = a.do(t, http.MethodPut, "/api/servers/1", config.Server{
		Name: "web-1", Type: config.ServerSSH, Host: "10.0.0.6", User: "deploy",
	}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10.0.0.6", updated.Host)
	assert.True(t, updated.HasPassword, "an omitted password keeps the stored one")

	var got serverView
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/servers/1", nil, &got))
	assert.Equal(t, "10.0.0.6", got.Host)

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/servers/1", nil, nil))

	var e errorBody
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/servers/1", nil, &e))
	assert.Equal(t, string(errors.NotFound), e.Reason)
}

func TestAPI_Errors(t *testing.T) {
	a := newTestAPI(t)
	resp, err := http.Get(a.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{name: "bad id", method: http.MethodGet, path: "/api/servers/abc", wantStatus: http.StatusBadRequest},
		{name: "unknown id", method: http.MethodPost, path: "/api/servers/9/start", wantStatus: http.StatusNotFound, wantCode: errors.ErrConfig},
		{name: "invalid server", method: http.MethodPost, path: "/api/servers", body: config.Server{Name: "x", Type: config.ServerSSH},
			wantStatus: http.StatusBadRequest, wantCode: errors.ErrConfig},
		{name: "logs for unknown server", method: http.MethodGet, path: "/api/servers/9/logs?since=x", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errorBody
			code := a.do(t, tt.method, tt.path, tt.body, &e)
			assert.Equal(t, tt.wantStatus, code)
			assert.NotEmpty(t, e.Error)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, e.Code)
			}
		})
	}
}

func TestAPI_SSHStartBeforeConnect(t *testing.T) {
	a := newTestAPI(t)
	var created serverView
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/servers", config.Server{
		Name: "web-1", Type: config.ServerSSH, Host: "10.0.0.5", User: "deploy",
	}, &created))

	var e errorBody
	code := a.do(t, http.MethodPost, "/api/servers/1/start", nil, &e)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(errors.NotConnected), e.Reason)
	assert.NotEmpty(t, e.Suggestion)

	var st session.Status
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/connect", nil, &st))
	assert.True(t, st.Connected)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/start", nil, &st))
	assert.True(t, st.Running)
}

func TestAPI_SessionFlow(t *testing.T) {
	a := newTestAPI(t)
	id := a.addLocal(t)

	var st map[string]interface{}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/start", nil, &st))
	assert.Equal(t, "running", st["state"])

	stream := a.fake(id).LastStream()
	stream.Emit(logbuf.Stdout, "listening on 3000")
	stream.Emit(logbuf.Stderr, "ERROR: db timeout")

	var logs logsResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/servers/1/logs", nil, &logs))
	require.NotEmpty(t, logs.Lines)
	last := logs.Lines[len(logs.Lines)-1]
	assert.Equal(t, "ERROR: db timeout", last.Text)
	assert.Equal(t, "error", last.Level)
	assert.Equal(t, last.Seq, logs.LastSeq)

	var tail logsResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/servers/1/logs?since="+itoa(last.Seq-1), nil, &tail))
	require.Len(t, tail.Lines, 1)

	var errs logsResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/servers/1/errors", nil, &errs))
	var errTexts []string
	for _, l := range errs.Lines {
		errTexts = append(errTexts, l.Text)
	}
	assert.Contains(t, errTexts, "ERROR: db timeout")

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/api/servers/1/input", map[string]string{"text": "rs"}, nil))
	assert.Equal(t, []string{"rs"}, stream.Inputs())

	a.fake(id).SetOutput(transport.Output{Stdout: "v18\n"}, nil)
	var execResp struct {
		Output transport.Output `json:"output"`
		Error  string           `json:"error"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/exec", map[string]string{"command": "node -v"}, &execResp))
	assert.Equal(t, "v18\n", execResp.Output.Stdout)
	assert.Empty(t, execResp.Error)

	a.fake(id).SetOutput(transport.Output{Stderr: "nope\n", ExitCode: 1},
		errors.New(errors.ErrExec, "Command wrote to stderr", "").WithReason(errors.NonZeroStderr))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/exec", map[string]string{"command": "bad"}, &execResp))
	assert.Equal(t, "nope\n", execResp.Output.Stderr)
	assert.Contains(t, execResp.Error, "stderr")

	var an panel.Analysis
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/analyze", map[string]interface{}{"text": "ERROR: db timeout"}, &an))
	assert.Equal(t, "explained: ERROR: db timeout", an.Text)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/analyze", map[string]interface{}{"text": "ERROR: db timeout"}, &an))
	assert.True(t, an.Cached)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/followup",
		map[string]string{"text": "ERROR: db timeout", "question": "why?"}, &an))
	assert.Equal(t, "answer to why?", an.Text)

	var removed map[string]int
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/servers/1/logs", map[string]string{"text": "ERROR: db timeout"}, &removed))
	assert.Equal(t, 1, removed["removed"])

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/stop", nil, &st))
	assert.Equal(t, "connected", st["state"])
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/disconnect", nil, &st))
	assert.Equal(t, "disconnected", st["state"])
}

func TestAPI_WebSocketFeed(t *testing.T) {
	a := newTestAPI(t)
	id := a.addLocal(t)
	var st map[string]interface{}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/servers/1/start", nil, &st))
	stream := a.fake(id).LastStream()
	stream.Emit(logbuf.Stdout, "before")

	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/servers/1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap struct {
		Kind   string                 `json:"kind"`
		Status map[string]interface{} `json:"status"`
		Lines  []lineView             `json:"lines"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, FeedKindSnapshot, snap.Kind)
	assert.Equal(t, "running", snap.Status["state"])
	require.NotEmpty(t, snap.Lines)
	assert.Equal(t, "before", snap.Lines[len(snap.Lines)-1].Text)

	stream.Emit(logbuf.Stdout, "after")
	for {
		var ev session.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Kind == session.EventLog {
			assert.Equal(t, "after", ev.Line.Text)
			assert.Equal(t, snap.Lines[len(snap.Lines)-1].Seq+1, ev.Line.Seq)
			break
		}
	}
}

func TestAPI_WebSocketUnknownServer(t *testing.T) {
	a := newTestAPI(t)
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/servers/5/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func itoa(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
