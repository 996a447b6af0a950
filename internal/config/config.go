// Package config handles configuration loading and management for graphdev.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for graphdev.
type Config struct {
	Router      RouterConfig      `mapstructure:"router"`
	Composition CompositionConfig `mapstructure:"composition"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Session     SessionConfig     `mapstructure:"session"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// RouterConfig holds router process settings.
type RouterConfig struct {
	// Version is the router release to run, e.g. "1.59.0" or "latest".
	Version string `mapstructure:"version"`
	// Binary is an explicit router executable. Skips installation when set.
	Binary string `mapstructure:"binary"`
	// DownloadURL is a template for release tarballs. {version}, {os} and
	// {arch} are substituted.
	DownloadURL string `mapstructure:"download_url"`
	// Listen overrides supergraph.listen in the router config.
	Listen string `mapstructure:"listen"`
	// ConfigPath is an optional static router config file to merge and watch.
	ConfigPath string `mapstructure:"config_path"`
	// HealthTimeout bounds how long the router may be unhealthy.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	// HealthInterval is the delay between health checks.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// CompositionConfig holds composition settings.
type CompositionConfig struct {
	// Binary is the external composition executable.
	Binary string `mapstructure:"binary"`
	// FederationVersion forces the federation version for every session.
	FederationVersion string `mapstructure:"federation_version"`
}

// WatchConfig holds subgraph watcher settings.
type WatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RetryBudget is how many consecutive fetch failures a subgraph may have
	// before it is removed from composition.
	RetryBudget int `mapstructure:"retry_budget"`
}

// SessionConfig holds dev session settings.
type SessionConfig struct {
	// Workdir is where per-session router files are written. Empty means a
	// directory under the user cache dir.
	Workdir string `mapstructure:"workdir"`
	// IPCAddress is the leader socket. A path means a unix socket, host:port
	// means TCP.
	IPCAddress string `mapstructure:"ipc_address"`
}

// RegistryConfig holds schema registry settings.
type RegistryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Listen is the metrics server address. Empty disables the server.
	Listen string `mapstructure:"listen"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (GRAPHDEV_*, APOLLO_KEY)
// 2. Project config (.graphdev.yaml in current directory or parent)
// 3. User config (~/.config/graphdev/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.APIKey = expandEnv(cfg.Registry.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.APIKey = expandEnv(cfg.Registry.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("router.version", cfg.Router.Version)
	v.Set("router.binary", cfg.Router.Binary)
	v.Set("router.download_url", cfg.Router.DownloadURL)
	v.Set("router.listen", cfg.Router.Listen)
	v.Set("router.config_path", cfg.Router.ConfigPath)
	v.Set("router.health_timeout", cfg.Router.HealthTimeout.String())
	v.Set("router.health_interval", cfg.Router.HealthInterval.String())
	v.Set("composition.binary", cfg.Composition.Binary)
	v.Set("composition.federation_version", cfg.Composition.FederationVersion)
	v.Set("watch.poll_interval", cfg.Watch.PollInterval.String())
	v.Set("watch.retry_budget", cfg.Watch.RetryBudget)
	v.Set("session.workdir", cfg.Session.Workdir)
	v.Set("session.ipc_address", cfg.Session.IPCAddress)
	v.Set("registry.endpoint", cfg.Registry.Endpoint)
	v.Set("registry.api_key", cfg.Registry.APIKey)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("metrics.listen", cfg.Metrics.Listen)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultIPCAddress returns the well-known leader socket path.
func DefaultIPCAddress() string {
	return filepath.Join(os.TempDir(), "graphdev.sock")
}

// DefaultCacheDir returns the directory for downloaded binaries and session
// working directories.
func DefaultCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "graphdev")
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "graphdev")
	}
	return filepath.Join(dir, "graphdev")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("router.version", "latest")
	v.SetDefault("router.binary", "")
	v.SetDefault("router.download_url", "https://router.apollo.dev/download/{os}?version={version}")
	v.SetDefault("router.listen", "127.0.0.1:4000")
	v.SetDefault("router.config_path", "")
	v.SetDefault("router.health_timeout", "10s")
	v.SetDefault("router.health_interval", "1s")

	v.SetDefault("composition.binary", "supergraph")
	v.SetDefault("composition.federation_version", "")

	v.SetDefault("watch.poll_interval", "1s")
	v.SetDefault("watch.retry_budget", 3)

	v.SetDefault("session.workdir", "")
	v.SetDefault("session.ipc_address", DefaultIPCAddress())

	v.SetDefault("registry.endpoint", "https://api.apollographql.com/api/graphql")
	v.SetDefault("registry.api_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.listen", "")
}

// bindEnv maps environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("GRAPHDEV")
	v.AutomaticEnv()

	v.BindEnv("registry.api_key", "GRAPHDEV_REGISTRY_API_KEY", "APOLLO_KEY")
	v.BindEnv("router.version", "GRAPHDEV_ROUTER_VERSION")
	v.BindEnv("router.binary", "GRAPHDEV_ROUTER_BINARY")
	v.BindEnv("composition.binary", "GRAPHDEV_SUPERGRAPH_BINARY")
	v.BindEnv("logging.level", "GRAPHDEV_LOG_LEVEL")
}

// getUserConfigDir returns the XDG config directory for graphdev.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "graphdev")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "graphdev")
	}
	return filepath.Join(home, ".config", "graphdev")
}

// findProjectConfig searches for .graphdev.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".graphdev.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Router: RouterConfig{
			Version:        "latest",
			DownloadURL:    "https://router.apollo.dev/download/{os}?version={version}",
			Listen:         "127.0.0.1:4000",
			HealthTimeout:  10 * time.Second,
			HealthInterval: time.Second,
		},
		Composition: CompositionConfig{
			Binary: "supergraph",
		},
		Watch: WatchConfig{
			PollInterval: time.Second,
			RetryBudget:  3,
		},
		Session: SessionConfig{
			IPCAddress: DefaultIPCAddress(),
		},
		Registry: RegistryConfig{
			Endpoint: "https://api.apollographql.com/api/graphql",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
