package config

import "time"

// Config holds application settings loaded from config.yaml and LOGPANEL_*
// environment variables. Server definitions live separately in servers.yml.
type Config struct {
	DataDir  string         `yaml:"data_dir" mapstructure:"data_dir"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Session  SessionConfig  `yaml:"session" mapstructure:"session"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	SSH      SSHConfig      `yaml:"ssh" mapstructure:"ssh"`
	Local    LocalConfig    `yaml:"local" mapstructure:"local"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
}

// LogConfig controls the per-session log buffer.
type LogConfig struct {
	// BufferSize is the number of lines retained per session.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// SessionConfig bounds the blocking session operations.
type SessionConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ExecTimeout    time.Duration `yaml:"exec_timeout" mapstructure:"exec_timeout"`
	// StopGrace is how long a stopped process gets before it is killed.
	StopGrace time.Duration `yaml:"stop_grace" mapstructure:"stop_grace"`
}

// MetricsConfig controls the resource sampler.
type MetricsConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// Host key policies.
const (
	HostKeyStrict    = "strict"
	HostKeyAcceptNew = "accept-new"
	HostKeyOff       = "off"
)

// SSHConfig controls how SSH connections authenticate and verify hosts.
type SSHConfig struct {
	// HostKeyPolicy is one of "strict", "accept-new" or "off".
	HostKeyPolicy string `yaml:"host_key_policy" mapstructure:"host_key_policy"`
	KnownHosts    string `yaml:"known_hosts" mapstructure:"known_hosts"`
	UseAgent      bool   `yaml:"use_agent" mapstructure:"use_agent"`
	// UseSSHConfig resolves host aliases, ports and identities from ~/.ssh/config.
	UseSSHConfig bool `yaml:"use_ssh_config" mapstructure:"use_ssh_config"`
}

// LocalConfig controls local process sessions.
type LocalConfig struct {
	// Shell overrides the platform shell (bash, or cmd.exe on Windows).
	Shell string `yaml:"shell" mapstructure:"shell"`
	// Encoding names the fallback encoding for output that is not valid UTF-8.
	// Empty picks the platform default.
	Encoding       string        `yaml:"encoding" mapstructure:"encoding"`
	PreambleWindow time.Duration `yaml:"preamble_window" mapstructure:"preamble_window"`
}

// AnalysisConfig controls the AI error analysis service.
type AnalysisConfig struct {
	Model  string `yaml:"model" mapstructure:"model"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// SharedCache reuses analyses across servers instead of per server.
	SharedCache bool          `yaml:"shared_cache" mapstructure:"shared_cache"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// APIConfig controls the HTTP API served by 'logpanel serve'.
type APIConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			BufferSize: 500,
		},
		Session: SessionConfig{
			ConnectTimeout: 10 * time.Second,
			ExecTimeout:    5 * time.Second,
			StopGrace:      3 * time.Second,
		},
		Metrics: MetricsConfig{
			Interval: 5 * time.Second,
		},
		SSH: SSHConfig{
			HostKeyPolicy: HostKeyAcceptNew,
			KnownHosts:    "~/.ssh/known_hosts",
			UseAgent:      true,
			UseSSHConfig:  true,
		},
		Local: LocalConfig{
			PreambleWindow: 2 * time.Second,
		},
		Analysis: AnalysisConfig{
			Model:   "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7878",
		},
	}
}
