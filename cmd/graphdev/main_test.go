package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/graphdev/internal/config"
	"github.com/ShayCichocki/graphdev/internal/orchestrator"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

func TestConfigValueRoundTrip(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"router.listen", "127.0.0.1:4100", "127.0.0.1:4100"},
		{"router.health_timeout", "45s", "45s"},
		{"watch.poll_interval", "500ms", "500ms"},
		{"watch.retry_budget", "3", "3"},
		{"composition.federation_version", "=2.5.1", "=2.5.1"},
		{"logging.level", "DEBUG", "debug"},
		{"logging.format", "json", "json"},
		{"Metrics.Listen", ":9100", ":9100"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue(%q, %q) error = %v", tt.key, tt.value, err)
			}
			got, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue(%q) error = %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSetConfigValueRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "router.colour", "blue"},
		{"bad duration", "router.health_interval", "soon"},
		{"zero duration", "watch.poll_interval", "0s"},
		{"negative budget", "watch.retry_budget", "-1"},
		{"bad federation", "composition.federation_version", "three"},
		{"bad level", "logging.level", "loud"},
		{"bad format", "logging.format", "xml"},
		{"bad api key", "registry.api_key", "not-a-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := setConfigValue(config.Default(), tt.key, tt.value); err == nil {
				t.Errorf("setConfigValue(%q, %q) succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestAPIKeyIsMasked(t *testing.T) {
	cfg := config.Default()
	key := "service:my-graph:abcdefghijklmnop1234"
	if err := setConfigValue(cfg, "registry.api_key", key); err != nil {
		t.Fatalf("setConfigValue error = %v", err)
	}
	got, err := getConfigValue(cfg, "registry.api_key")
	if err != nil {
		t.Fatalf("getConfigValue error = %v", err)
	}
	if strings.Contains(got, "abcdefgh") {
		t.Errorf("getConfigValue leaked the key: %q", got)
	}
	if !strings.HasSuffix(got, "1234") {
		t.Errorf("getConfigValue = %q, want the last 4 characters shown", got)
	}
}

func TestEveryConfigKeyIsReadable(t *testing.T) {
	cfg := config.Default()
	for _, key := range configKeys {
		if _, err := getConfigValue(cfg, key); err != nil {
			t.Errorf("getConfigValue(%q) error = %v", key, err)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{72 * time.Hour, "3d"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestApplyDevFlags(t *testing.T) {
	defer func() {
		devListen, devRouterConfig, devIPCAddress, devFederation, devMetricsAddr = "", "", "", "", ""
	}()
	devListen = "0.0.0.0:4444"
	devIPCAddress = "127.0.0.1:9999"
	devFederation = "2"

	cfg := config.Default()
	wantConfigPath := cfg.Router.ConfigPath
	applyDevFlags(cfg)

	if cfg.Router.Listen != "0.0.0.0:4444" {
		t.Errorf("Router.Listen = %q", cfg.Router.Listen)
	}
	if cfg.Session.IPCAddress != "127.0.0.1:9999" {
		t.Errorf("Session.IPCAddress = %q", cfg.Session.IPCAddress)
	}
	if cfg.Composition.FederationVersion != "2" {
		t.Errorf("Composition.FederationVersion = %q", cfg.Composition.FederationVersion)
	}
	if cfg.Router.ConfigPath != wantConfigPath {
		t.Errorf("Router.ConfigPath changed without a flag: %q", cfg.Router.ConfigPath)
	}
}

func TestSessionWorkdir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "sessions")
	cfg := config.Default()
	cfg.Session.Workdir = base

	first, err := sessionWorkdir(cfg)
	if err != nil {
		t.Fatalf("sessionWorkdir error = %v", err)
	}
	second, err := sessionWorkdir(cfg)
	if err != nil {
		t.Fatalf("sessionWorkdir error = %v", err)
	}
	if first == second {
		t.Errorf("sessionWorkdir returned the same directory twice: %s", first)
	}
	for _, dir := range []string{first, second} {
		if filepath.Dir(dir) != base {
			t.Errorf("%s is not under %s", dir, base)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s was not created", dir)
		}
	}
}

func TestDescribe(t *testing.T) {
	failed := models.Failed([]models.BuildError{{Message: "Field \"Query.me\" conflicts"}})

	tests := []struct {
		name     string
		ev       orchestrator.Event
		wantOK   bool
		contains string
	}{
		{"loaded", orchestrator.Event{Type: orchestrator.EventSubgraphLoaded, Subgraph: "users"}, true, "loaded subgraph users"},
		{"fetch failed", orchestrator.Event{Type: orchestrator.EventSubgraphFetchFailed, Subgraph: "users", Message: "fetch failed", Error: errors.New("connection refused")}, true, "connection refused"},
		{"composition failed", orchestrator.Event{Type: orchestrator.EventCompositionFailed, Outcome: &failed}, true, "Query.me"},
		{"manifest reloaded", orchestrator.Event{Type: orchestrator.EventManifestReloaded, Message: "manifest reloaded: 0 added, 1 removed, 0 changed"}, true, "1 removed"},
		{"healthy", orchestrator.Event{Type: orchestrator.EventRouterHealthy}, true, "http://127.0.0.1:4000"},
		{"install stage", orchestrator.Event{Type: orchestrator.EventRouterStage, Stage: router.StageInstall}, true, "starting router"},
		{"other stage", orchestrator.Event{Type: orchestrator.EventRouterStage, Stage: router.StageRun}, false, ""},
		{"router log", orchestrator.Event{Type: orchestrator.EventRouterLog, Message: "listening"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, msg, ok := describe(tt.ev, "127.0.0.1:4000")
			if ok != tt.wantOK {
				t.Fatalf("describe ok = %v, want %v", ok, tt.wantOK)
			}
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("describe message = %q, want it to contain %q", msg, tt.contains)
			}
		})
	}
}
