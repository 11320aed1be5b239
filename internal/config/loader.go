package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/spf13/viper"
)

const (
	// DataDirName is the per-user directory holding config and state.
	DataDirName = ".ai-log-panel"
	// ConfigFileName is the settings file inside the data directory.
	ConfigFileName = "config.yaml"
	// ServersFileName holds the registered server definitions.
	ServersFileName = "servers.yml"
	// AnalysisCacheFileName holds cached AI analyses.
	AnalysisCacheFileName = "analysis_cache.yml"
	// ConfigEnv points at an explicit settings file.
	ConfigEnv = "LOGPANEL_CONFIG"
	// EnvPrefix prefixes environment overrides, e.g. LOGPANEL_LOG_BUFFER_SIZE.
	EnvPrefix = "LOGPANEL"
)

// DefaultDataDir returns ~/.ai-log-panel, or a relative directory if the
// home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DataDirName
	}
	return filepath.Join(home, DataDirName)
}

// Load reads settings from the specified path, layered over defaults and
// under environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Create "+path+" or drop the --config flag to use defaults")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the settings file using the search order:
// 1. Explicit path (from --config flag)
// 2. $LOGPANEL_CONFIG
// 3. ~/.ai-log-panel/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(ConfigEnv)
	}
	if explicit != "" {
		explicit = ExpandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	candidate := filepath.Join(DefaultDataDir(), ConfigFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", nil
}

// LoadOrDefault loads the found settings file, or defaults plus environment
// overrides when there is none.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}

	if path == "" {
		return parseConfig(newViper(), "environment")
	}

	return Load(path)
}

// newViper returns a viper instance with every key defaulted so that
// environment overrides apply on Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("analysis.api_key", EnvPrefix+"_ANALYSIS_API_KEY", "GEMINI_API_KEY")

	return v
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.buffer_size", d.Log.BufferSize)
	v.SetDefault("session.connect_timeout", d.Session.ConnectTimeout)
	v.SetDefault("session.exec_timeout", d.Session.ExecTimeout)
	v.SetDefault("session.stop_grace", d.Session.StopGrace)
	v.SetDefault("metrics.interval", d.Metrics.Interval)
	v.SetDefault("ssh.host_key_policy", d.SSH.HostKeyPolicy)
	v.SetDefault("ssh.known_hosts", d.SSH.KnownHosts)
	v.SetDefault("ssh.use_agent", d.SSH.UseAgent)
	v.SetDefault("ssh.use_ssh_config", d.SSH.UseSSHConfig)
	v.SetDefault("local.shell", d.Local.Shell)
	v.SetDefault("local.encoding", d.Local.Encoding)
	v.SetDefault("local.preamble_window", d.Local.PreambleWindow)
	v.SetDefault("analysis.model", d.Analysis.Model)
	v.SetDefault("analysis.api_key", d.Analysis.APIKey)
	v.SetDefault("analysis.shared_cache", d.Analysis.SharedCache)
	v.SetDefault("analysis.timeout", d.Analysis.Timeout)
	v.SetDefault("api.listen", d.API.Listen)
}

// parseConfig converts viper settings to a validated Config.
func parseConfig(v *viper.Viper, source string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+source)
	}

	cfg.DataDir = ExpandTilde(Expand(cfg.DataDir))
	cfg.SSH.KnownHosts = ExpandTilde(Expand(cfg.SSH.KnownHosts))
	cfg.SSH.HostKeyPolicy = strings.ToLower(strings.TrimSpace(cfg.SSH.HostKeyPolicy))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServersPath returns the servers.yml path under the configured data dir.
func (c *Config) ServersPath() string {
	return filepath.Join(c.DataDir, ServersFileName)
}

// AnalysisCachePath returns the analysis cache path under the configured data dir.
func (c *Config) AnalysisCachePath() string {
	return filepath.Join(c.DataDir, AnalysisCacheFileName)
}
