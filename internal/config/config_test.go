package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Router.Version != "latest" {
		t.Errorf("expected default router version 'latest', got %q", cfg.Router.Version)
	}

	if cfg.Router.Listen != "127.0.0.1:4000" {
		t.Errorf("expected default listen 127.0.0.1:4000, got %q", cfg.Router.Listen)
	}

	if cfg.Router.HealthTimeout != 10*time.Second {
		t.Errorf("expected health timeout 10s, got %v", cfg.Router.HealthTimeout)
	}

	if cfg.Watch.PollInterval != time.Second {
		t.Errorf("expected poll interval 1s, got %v", cfg.Watch.PollInterval)
	}

	if cfg.Watch.RetryBudget != 3 {
		t.Errorf("expected retry budget 3, got %d", cfg.Watch.RetryBudget)
	}

	if cfg.Composition.Binary != "supergraph" {
		t.Errorf("expected composition binary 'supergraph', got %q", cfg.Composition.Binary)
	}

	if cfg.Session.IPCAddress == "" {
		t.Error("expected a default ipc address")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
router:
  version: 1.59.0
  listen: 0.0.0.0:5000
  health_timeout: 30s
composition:
  federation_version: "=2.3.4"
watch:
  poll_interval: 250ms
  retry_budget: 5
registry:
  api_key: service:shop:abcdef
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Router.Version != "1.59.0" {
		t.Errorf("expected router version '1.59.0', got %q", cfg.Router.Version)
	}

	if cfg.Router.Listen != "0.0.0.0:5000" {
		t.Errorf("expected listen '0.0.0.0:5000', got %q", cfg.Router.Listen)
	}

	if cfg.Router.HealthTimeout != 30*time.Second {
		t.Errorf("expected health timeout 30s, got %v", cfg.Router.HealthTimeout)
	}

	if cfg.Router.HealthInterval != time.Second {
		t.Errorf("expected default health interval 1s, got %v", cfg.Router.HealthInterval)
	}

	if cfg.Composition.FederationVersion != "=2.3.4" {
		t.Errorf("expected federation version '=2.3.4', got %q", cfg.Composition.FederationVersion)
	}

	if cfg.Watch.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", cfg.Watch.PollInterval)
	}

	if cfg.Watch.RetryBudget != 5 {
		t.Errorf("expected retry budget 5, got %d", cfg.Watch.RetryBudget)
	}

	if cfg.Registry.APIKey != "service:shop:abcdef" {
		t.Errorf("expected api key, got %q", cfg.Registry.APIKey)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/graphdev"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")

	if got := DefaultCacheDir(); got != "/custom/cache/graphdev" {
		t.Errorf("expected /custom/cache/graphdev, got %q", got)
	}
}
