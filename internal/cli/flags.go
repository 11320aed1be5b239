package cli

import (
	"fmt"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ServerFlags holds the server definition flags used by server add/edit.
type ServerFlags struct {
	Name     string
	Type     string
	Host     string
	Port     int
	User     string
	Password string
	Key      string
	Dir      string
	Command  string
	OS       string
}

// AddServerFlags registers the server definition flags on a command.
func AddServerFlags(cmd *cobra.Command, flags *ServerFlags) {
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name, e.g. web-1")
	cmd.Flags().StringVar(&flags.Type, "type", "", "SSH or Local")
	cmd.Flags().StringVar(&flags.Host, "host", "", "hostname, IP, or ~/.ssh/config alias")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "SSH port (default 22)")
	cmd.Flags().StringVar(&flags.User, "user", "", "SSH login name")
	cmd.Flags().StringVar(&flags.Password, "password", "", "SSH password (prefer keys or the agent)")
	cmd.Flags().StringVar(&flags.Key, "key", "", "private key file")
	cmd.Flags().StringVar(&flags.Dir, "dir", "", "working directory for the start command")
	cmd.Flags().StringVar(&flags.Command, "cmd", "", "start command")
	cmd.Flags().StringVar(&flags.OS, "os", "", "Linux or Windows")
}

// Apply copies the flags the user actually set onto s, leaving the rest of
// s untouched.
func (f *ServerFlags) Apply(fs *pflag.FlagSet, s config.Server) config.Server {
	set := func(name string) bool { return fs.Changed(name) }
	if set("name") {
		s.Name = f.Name
	}
	if set("type") {
		s.Type = config.ServerType(f.Type)
	}
	if set("host") {
		s.Host = f.Host
	}
	if set("port") {
		s.Port = f.Port
	}
	if set("user") {
		s.User = f.User
	}
	if set("password") {
		s.Password = f.Password
	}
	if set("key") {
		s.PrivateKeyPath = f.Key
	}
	if set("dir") {
		s.WorkingDirectory = f.Dir
	}
	if set("cmd") {
		s.StartCommand = f.Command
	}
	if set("os") {
		s.OS = config.OSType(f.OS)
	}
	return s
}

// AnyChanged reports whether any server definition flag was given.
func AnyChanged(fs *pflag.FlagSet) bool {
	for _, name := range []string{"name", "type", "host", "port", "user", "password", "key", "dir", "cmd", "os"} {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

// ParseTimeout parses a duration flag. Returns zero duration if the flag
// is empty.
func ParseTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	duration, err := time.ParseDuration(flag)
	if err != nil || duration < 0 {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 5s, 2m, or 500ms.")
	}
	return duration, nil
}
