package sshutil

import (
	"bytes"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// userConfigPath is the ssh_config consulted for aliases. Tests point it
// elsewhere.
var userConfigPath = func() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

type sshSettings struct {
	hostname      string
	port          string
	user          string
	identityFile  string
	encryptedKeys []string
}

func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSettings works out where and as whom to connect. Precedence, lowest
// first: defaults, ~/.ssh/config (when enabled), user@host:port in host,
// then explicit Options.
func resolveSettings(host string, opts Options) *sshSettings {
	s := &sshSettings{port: "22", user: currentUser()}

	var inlineUser, inlinePort string
	if at := strings.LastIndex(host, "@"); at != -1 {
		inlineUser = host[:at]
		host = host[at+1:]
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, inlinePort = h, p
	}
	s.hostname = host

	if opts.UseSSHConfig {
		applySSHConfig(s, host)
	}

	if inlineUser != "" {
		s.user = inlineUser
	}
	if inlinePort != "" {
		s.port = inlinePort
	}
	if opts.User != "" {
		s.user = opts.User
	}
	// Port 22 is the stored default, so it does not override a port
	// from ssh_config.
	if opts.Port > 0 && opts.Port != 22 {
		s.port = strconv.Itoa(opts.Port)
	}
	return s
}

func applySSHConfig(s *sshSettings, alias string) {
	content, _, err := preprocessSSHConfig(userConfigPath())
	if err != nil {
		return
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return
	}

	if v, _ := cfg.Get(alias, "HostName"); v != "" {
		s.hostname = v
	}
	if v, _ := cfg.Get(alias, "Port"); v != "" {
		s.port = v
	}
	if v, _ := cfg.Get(alias, "User"); v != "" {
		s.user = v
	}
	if v, _ := cfg.Get(alias, "IdentityFile"); v != "" {
		s.identityFile = expandPath(v)
	}
}

// preprocessSSHConfig returns the config up to the first Match directive,
// which ssh_config cannot parse, and the 1-indexed line of that directive.
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "match ") {
			return []byte(strings.Join(lines[:i], "\n")), i + 1, nil
		}
	}
	return content, 0, nil
}

// SSHHostEntry is a concrete Host block from ssh_config, used to suggest
// hosts when registering a server.
type SSHHostEntry struct {
	Alias        string
	Hostname     string
	User         string
	Port         string
	IdentityFile string
}

// Description returns a short human summary such as
// "10.0.0.5, user: admin, port: 2222".
func (h SSHHostEntry) Description() string {
	var parts []string
	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}
	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// PortNumber returns the entry's port, or 22.
func (h SSHHostEntry) PortNumber() int {
	if p, err := strconv.Atoi(h.Port); err == nil && p > 0 {
		return p
	}
	return 22
}

// ParseSSHConfig parses the user's ~/.ssh/config.
func ParseSSHConfig() ([]SSHHostEntry, error) {
	return ParseSSHConfigFile(userConfigPath())
}

// ParseSSHConfigFile returns the concrete (non-wildcard) hosts in a config
// file, sorted by alias. A missing file yields no hosts and no error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, "*?") || seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{Alias: alias}
			entry.Hostname, _ = cfg.Get(alias, "HostName")
			entry.User, _ = cfg.Get(alias, "User")
			entry.Port, _ = cfg.Get(alias, "Port")
			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = expandPath(identity)
			}
			hosts = append(hosts, entry)
		}
	}

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Alias < hosts[j].Alias })
	return hosts, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		// Windows reports DOMAIN\user.
		if i := strings.LastIndex(u.Username, `\`); i != -1 {
			return u.Username[i+1:]
		}
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
