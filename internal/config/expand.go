package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Use this for LOCAL paths only. Remote paths keep ~ for the remote shell.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// Expand replaces ${USER} and ${HOME} with local values.
func Expand(s string) string {
	if s == "" {
		return s
	}
	result := s
	if strings.Contains(result, "${USER}") {
		result = strings.ReplaceAll(result, "${USER}", getUser())
	}
	if strings.Contains(result, "${HOME}") {
		result = strings.ReplaceAll(result, "${HOME}", getHome())
	}
	return result
}

// ExpandRemote is Expand for paths on a remote host: ${HOME} becomes ~ so
// the remote shell expands it.
func ExpandRemote(s string) string {
	if s == "" {
		return s
	}
	result := s
	if strings.Contains(result, "${USER}") {
		result = strings.ReplaceAll(result, "${USER}", getUser())
	}
	if strings.Contains(result, "${HOME}") {
		result = strings.ReplaceAll(result, "${HOME}", "~")
	}
	return result
}

// ExpandServer resolves paths in a server definition for use at connect time.
// The stored record keeps the unexpanded form.
func ExpandServer(s Server) Server {
	s.PrivateKeyPath = ExpandTilde(Expand(s.PrivateKeyPath))
	if s.IsLocal() {
		s.WorkingDirectory = ExpandTilde(Expand(s.WorkingDirectory))
	} else {
		s.WorkingDirectory = ExpandRemote(s.WorkingDirectory)
	}
	return s
}

func getUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "user"
}

func getHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~"
	}
	return home
}
