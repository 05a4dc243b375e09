package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/formpilot/formpilot/internal/config"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Session.HistoryHighWater != 100 || cfg.Session.HistoryKeep != 50 {
		t.Errorf("history policy = %d/%d", cfg.Session.HistoryHighWater, cfg.Session.HistoryKeep)
	}
	if cfg.Agents.ClassifierAttempts != 3 {
		t.Errorf("classifier attempts = %d", cfg.Agents.ClassifierAttempts)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formpilot.yaml")
	yaml := `
server:
  port: "9090"
session:
  history_high_water: 200
  history_keep: 80
forms:
  dir: /srv/forms
  cache_ttl: 10m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Session.HistoryHighWater != 200 || cfg.Session.HistoryKeep != 80 {
		t.Errorf("history policy = %d/%d", cfg.Session.HistoryHighWater, cfg.Session.HistoryKeep)
	}
	if cfg.Forms.Dir != "/srv/forms" || cfg.Forms.CacheTTL != 10*time.Minute {
		t.Errorf("forms = %+v", cfg.Forms)
	}
	// Untouched keys keep their defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %s", cfg.NATS.URL)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formpilot.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("FORMPILOT_PORT", "7070")
	t.Setenv("FORMPILOT_RETRY_DELAY", "250ms")

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %s, want env to win", cfg.Server.Port)
	}
	if cfg.Agents.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Agents.RetryDelay)
	}
}

func TestLoadFromRejectsBadHistoryPolicy(t *testing.T) {
	t.Setenv("FORMPILOT_HISTORY_KEEP", "100")

	if _, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error when keep >= high water")
	}
}

func TestLoadFromRejectsZeroAttempts(t *testing.T) {
	t.Setenv("FORMPILOT_CLASSIFIER_ATTEMPTS", "0")

	if _, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error for zero attempts")
	}
}
