package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/graphdev/internal/config"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify graphdev configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/graphdev/config.yaml
Project-specific overrides can be placed in .graphdev.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists every key in display order.
var configKeys = []string{
	"router.version",
	"router.binary",
	"router.download_url",
	"router.listen",
	"router.config_path",
	"router.health_timeout",
	"router.health_interval",
	"composition.binary",
	"composition.federation_version",
	"watch.poll_interval",
	"watch.retry_budget",
	"session.workdir",
	"session.ipc_address",
	"registry.endpoint",
	"registry.api_key",
	"logging.level",
	"logging.format",
	"metrics.listen",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		if value == "" {
			value = "(not set)"
		}
		fmt.Printf("%s: %s\n", key, value)
	}
	fmt.Printf("\nAPI key source: %s\n", config.GetAPIKeySource(cfg))
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	if strings.EqualFold(key, "registry.api_key") {
		value = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "router.version":
		return cfg.Router.Version, nil
	case "router.binary":
		return cfg.Router.Binary, nil
	case "router.download_url":
		return cfg.Router.DownloadURL, nil
	case "router.listen":
		return cfg.Router.Listen, nil
	case "router.config_path":
		return cfg.Router.ConfigPath, nil
	case "router.health_timeout":
		return cfg.Router.HealthTimeout.String(), nil
	case "router.health_interval":
		return cfg.Router.HealthInterval.String(), nil
	case "composition.binary":
		return cfg.Composition.Binary, nil
	case "composition.federation_version":
		return cfg.Composition.FederationVersion, nil
	case "watch.poll_interval":
		return cfg.Watch.PollInterval.String(), nil
	case "watch.retry_budget":
		return strconv.Itoa(cfg.Watch.RetryBudget), nil
	case "session.workdir":
		return cfg.Session.Workdir, nil
	case "session.ipc_address":
		return cfg.Session.IPCAddress, nil
	case "registry.endpoint":
		return cfg.Registry.Endpoint, nil
	case "registry.api_key":
		if cfg.Registry.APIKey == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(cfg.Registry.APIKey), nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	case "metrics.listen":
		return cfg.Metrics.Listen, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "router.version":
		cfg.Router.Version = value
	case "router.binary":
		cfg.Router.Binary = value
	case "router.download_url":
		cfg.Router.DownloadURL = value
	case "router.listen":
		cfg.Router.Listen = value
	case "router.config_path":
		cfg.Router.ConfigPath = value
	case "router.health_timeout":
		d, err := parsePositiveDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Router.HealthTimeout = d
	case "router.health_interval":
		d, err := parsePositiveDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Router.HealthInterval = d
	case "composition.binary":
		cfg.Composition.Binary = value
	case "composition.federation_version":
		if value != "" {
			if _, err := models.ParseFederationVersion(value); err != nil {
				return fmt.Errorf("invalid value for composition.federation_version: %w", err)
			}
		}
		cfg.Composition.FederationVersion = value
	case "watch.poll_interval":
		d, err := parsePositiveDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Watch.PollInterval = d
	case "watch.retry_budget":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid value for watch.retry_budget: %q (want a non-negative integer)", value)
		}
		cfg.Watch.RetryBudget = n
	case "session.workdir":
		cfg.Session.Workdir = value
	case "session.ipc_address":
		cfg.Session.IPCAddress = value
	case "registry.endpoint":
		cfg.Registry.Endpoint = value
	case "registry.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Registry.APIKey = value
	case "logging.level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			cfg.Logging.Level = strings.ToLower(value)
		default:
			return fmt.Errorf("invalid value for logging.level: %s", value)
		}
	case "logging.format":
		switch strings.ToLower(value) {
		case "text", "json":
			cfg.Logging.Format = strings.ToLower(value)
		default:
			return fmt.Errorf("invalid value for logging.format: %s", value)
		}
	case "metrics.listen":
		cfg.Metrics.Listen = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration for %s: must be positive", key)
	}
	return d, nil
}
