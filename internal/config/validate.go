package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/skarch/logpanel/internal/errors"
)

// Validate checks application settings and returns a structured error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Log.BufferSize <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("log.buffer_size must be positive, got %d", cfg.Log.BufferSize),
			"Set log.buffer_size to the number of lines to keep per server, e.g. 500.")
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"session.connect_timeout", cfg.Session.ConnectTimeout},
		{"session.exec_timeout", cfg.Session.ExecTimeout},
		{"session.stop_grace", cfg.Session.StopGrace},
		{"metrics.interval", cfg.Metrics.Interval},
		{"analysis.timeout", cfg.Analysis.Timeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("%s must be a positive duration, got %s", d.key, d.val),
				"Use Go duration syntax like '5s' or '1m'.")
		}
	}
	if cfg.Local.PreambleWindow < 0 {
		return errors.New(errors.ErrConfig,
			"local.preamble_window can't be negative",
			"Use '0s' to disable the window or a short duration like '2s'.")
	}

	switch cfg.SSH.HostKeyPolicy {
	case HostKeyStrict, HostKeyAcceptNew, HostKeyOff:
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown ssh.host_key_policy '%s'", cfg.SSH.HostKeyPolicy),
			"Use one of: strict, accept-new, off.")
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New(errors.ErrConfig,
			"data_dir is empty",
			"Remove the setting to use ~/.ai-log-panel, or point it at a writable directory.")
	}

	return nil
}

// ValidateServer checks a single server definition.
func ValidateServer(s Server) error {
	fail := func(msg, hint string) error {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Server '%s': %s", s.Name, msg), hint)
	}

	if strings.TrimSpace(s.Name) == "" {
		return errors.New(errors.ErrConfig, "Server name is required", "Give the server a short name like 'web-1'.")
	}

	switch s.Type {
	case ServerSSH:
		if strings.TrimSpace(s.Host) == "" {
			return fail("host is required", "Set host to a hostname, IP, or ~/.ssh/config alias.")
		}
		if strings.TrimSpace(s.User) == "" {
			return fail("user is required", "Set user to the SSH login name.")
		}
		if s.Port < 1 || s.Port > 65535 {
			return fail(fmt.Sprintf("port %d is out of range", s.Port), "Use a port between 1 and 65535 (SSH default is 22).")
		}
	case ServerLocal:
		if strings.TrimSpace(s.WorkingDirectory) == "" {
			return fail("working directory is required for local servers", "Set workingDirectory to the directory the command runs in.")
		}
	default:
		return fail(fmt.Sprintf("unknown server type '%s'", s.Type), "Use SSH or Local.")
	}

	switch s.OS {
	case OSLinux, OSWindows:
	default:
		return fail(fmt.Sprintf("unknown OS type '%s'", s.OS), "Use Linux or Windows.")
	}

	return nil
}

// ValidateServers checks every server and that ids and names are unique.
func ValidateServers(servers []Server) error {
	ids := make(map[int]string, len(servers))
	names := make(map[string]bool, len(servers))
	for _, s := range servers {
		if err := ValidateServer(s); err != nil {
			return err
		}
		if other, ok := ids[s.ID]; ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Servers '%s' and '%s' share id %d", other, s.Name, s.ID),
				"Give each server a unique id in servers.yml.")
		}
		ids[s.ID] = s.Name
		if names[strings.ToLower(s.Name)] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Server name '%s' is used more than once", s.Name),
				"Server names must be unique so commands can refer to them.")
		}
		names[strings.ToLower(s.Name)] = true
	}
	return nil
}
