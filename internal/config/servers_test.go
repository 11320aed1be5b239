package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skarch/logpanel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ServersFileName)
	store := NewServerStore(path, logger.Noop())

	servers := []Server{
		{
			ID: 2, Name: "web-1", Type: ServerSSH, Host: "10.0.0.5", Port: 2222, User: "deploy",
			Password: "secret", WorkingDirectory: "/srv/app", StartCommand: "./run.sh", OS: OSLinux,
		},
		{
			ID: 1, Name: "mc", Type: ServerLocal, Host: "localhost", User: "local",
			WorkingDirectory: "/opt/mc", StartCommand: "java -jar server.jar", OS: OSWindows,
		},
	}
	require.NoError(t, store.Save(servers))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	loaded := store.Load()
	require.Len(t, loaded, 2)
	assert.Equal(t, servers[1], loaded[0], "sorted by id")
	assert.Equal(t, servers[0], loaded[1])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestServerStore_MissingFile(t *testing.T) {
	log := logger.NewBufferLogger()
	store := NewServerStore(filepath.Join(t.TempDir(), ServersFileName), log)

	servers := store.Load()
	assert.NotNil(t, servers)
	assert.Empty(t, servers)
	assert.False(t, log.HasLevel("warn"), "a missing file is normal on first run")
}

func TestServerStore_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ServersFileName)
	require.NoError(t, os.WriteFile(path, []byte("- id: [unclosed\n"), 0o600))

	log := logger.NewBufferLogger()
	store := NewServerStore(path, log)

	assert.Empty(t, store.Load())
	assert.True(t, log.Contains("warn", "malformed"))
}

func TestServerStore_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ServersFileName)
	content := `
- id: 7
  name: legacy
  host: example.com
  user: root
  workingDirectory: /root
  startCommand: ./start.sh
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loaded := NewServerStore(path, logger.Noop()).Load()
	require.Len(t, loaded, 1)
	assert.Equal(t, ServerSSH, loaded[0].Type)
	assert.Equal(t, 22, loaded[0].Port)
	assert.Equal(t, OSLinux, loaded[0].OS)
}

func TestNextIDAndFind(t *testing.T) {
	assert.Equal(t, 1, NextID(nil))

	servers := []Server{{ID: 3, Name: "c"}, {ID: 1, Name: "a"}}
	assert.Equal(t, 4, NextID(servers))

	s, ok := FindServer(servers, 1)
	assert.True(t, ok)
	assert.Equal(t, "a", s.Name)

	_, ok = FindServer(servers, 2)
	assert.False(t, ok)
}
