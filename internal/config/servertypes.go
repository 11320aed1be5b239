package config

import (
	"net"
	"strconv"
	"strings"
)

// ServerType selects the transport used for a server.
type ServerType string

const (
	ServerSSH   ServerType = "SSH"
	ServerLocal ServerType = "Local"
)

// OSType selects shell syntax and metrics commands for a server.
type OSType string

const (
	OSLinux   OSType = "Linux"
	OSWindows OSType = "Windows"
)

// DefaultSSHPort is used when a server definition leaves port empty.
const DefaultSSHPort = 22

// Server is one registered server definition. Records are replaced whole on
// edit; ID never changes once assigned.
type Server struct {
	ID               int        `yaml:"id" json:"id"`
	Name             string     `yaml:"name" json:"name"`
	Type             ServerType `yaml:"serverType" json:"serverType"`
	Host             string     `yaml:"host" json:"host"`
	Port             int        `yaml:"port" json:"port"`
	User             string     `yaml:"user" json:"user"`
	Password         string     `yaml:"password,omitempty" json:"password,omitempty"`
	PrivateKeyPath   string     `yaml:"privateKeyPath,omitempty" json:"privateKeyPath,omitempty"`
	WorkingDirectory string     `yaml:"workingDirectory" json:"workingDirectory"`
	StartCommand     string     `yaml:"startCommand" json:"startCommand"`
	OS               OSType     `yaml:"osType" json:"osType"`
}

// IsLocal reports whether the server runs as a local process.
func (s Server) IsLocal() bool {
	return s.Type == ServerLocal
}

// Address returns host:port for SSH servers.
func (s Server) Address() string {
	port := s.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Label is a short human description, e.g. "web-1 (deploy@10.0.0.5:22)".
func (s Server) Label() string {
	if s.IsLocal() {
		return s.Name + " (local)"
	}
	return s.Name + " (" + s.User + "@" + s.Address() + ")"
}

// WithDefaults fills empty optional fields. Local servers always point at
// localhost as the current user.
func (s Server) WithDefaults() Server {
	if s.Type == "" {
		s.Type = ServerSSH
	}
	if s.OS == "" {
		s.OS = OSLinux
	}
	s.Type = ServerType(canonical(string(s.Type), string(ServerSSH), string(ServerLocal)))
	s.OS = OSType(canonical(string(s.OS), string(OSLinux), string(OSWindows)))
	if s.IsLocal() {
		s.Host = "localhost"
		s.User = "local"
		s.Port = 0
		s.Password = ""
		s.PrivateKeyPath = ""
	} else if s.Port == 0 {
		s.Port = DefaultSSHPort
	}
	return s
}

// canonical maps a case-insensitive match onto its canonical spelling.
func canonical(v string, options ...string) string {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return o
		}
	}
	return v
}
