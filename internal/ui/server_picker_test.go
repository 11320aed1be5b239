package ui

import (
	"bytes"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pickerServers() []config.Server {
	return []config.Server{
		{ID: 1, Name: "web-1", Type: config.ServerSSH, Host: "10.0.0.5", Port: 22, User: "deploy", StartCommand: "./serve"},
		{ID: 2, Name: "dev", Type: config.ServerLocal, WorkingDirectory: "/srv/dev", StartCommand: "npm start"},
	}
}

func TestServerItem(t *testing.T) {
	ssh := serverItem{server: pickerServers()[0]}
	assert.Equal(t, "web-1  #1", ssh.Title())
	assert.Equal(t, "SSH | deploy@10.0.0.5:22 | ./serve", ssh.Description())
	assert.Contains(t, ssh.FilterValue(), "10.0.0.5")

	local := serverItem{server: pickerServers()[1]}
	assert.Equal(t, "Local | /srv/dev | npm start", local.Description())
}

func TestServerPickerModel_Select(t *testing.T) {
	m := NewServerPickerModel(pickerServers())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, cmd := next.(ServerPickerModel).Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	got := next.(ServerPickerModel).Selected()
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ID)
	assert.Empty(t, next.View())
}

func TestServerPickerModel_Cancel(t *testing.T) {
	m := NewServerPickerModel(pickerServers())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Nil(t, next.(ServerPickerModel).Selected())
}

func TestPickServer_Shortcuts(t *testing.T) {
	_, err := PickServer(nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	one := pickerServers()[:1]
	got, err := PickServer(one, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "web-1", got.Name)
}
