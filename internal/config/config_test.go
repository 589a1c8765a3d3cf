package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	os.Setenv("AGORA_CONFIG", "/nonexistent/agora.yaml")
	defer os.Unsetenv("AGORA_CONFIG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Bus.InboxSize != 100 {
		t.Errorf("expected inbox size 100, got %d", cfg.Bus.InboxSize)
	}
	if cfg.Bus.DeliveryTimeout != time.Second {
		t.Errorf("expected 1s delivery timeout, got %v", cfg.Bus.DeliveryTimeout)
	}
	if cfg.Swarm.LoopWindow != 10 {
		t.Errorf("expected loop window 10, got %d", cfg.Swarm.LoopWindow)
	}
	if cfg.Diagnostics.Interval != 30*time.Second {
		t.Errorf("expected 30s diagnostics interval, got %v", cfg.Diagnostics.Interval)
	}
	if cfg.Monitor.BaselineAlpha != 0.1 {
		t.Errorf("expected baseline alpha 0.1, got %f", cfg.Monitor.BaselineAlpha)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.yaml")
	content := `
swarm:
  name: testswarm
  max_runtime: 5m
bus:
  inbox_size: 16
store:
  path: ` + filepath.Join(dir, "test.db") + `
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("AGORA_CONFIG", path)
	defer os.Unsetenv("AGORA_CONFIG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Swarm.Name != "testswarm" {
		t.Errorf("expected name 'testswarm', got '%s'", cfg.Swarm.Name)
	}
	if cfg.Swarm.MaxRuntime != 5*time.Minute {
		t.Errorf("expected 5m max runtime, got %v", cfg.Swarm.MaxRuntime)
	}
	if cfg.Bus.InboxSize != 16 {
		t.Errorf("expected inbox size 16, got %d", cfg.Bus.InboxSize)
	}
	// Untouched sections keep defaults
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default web port 8080, got %d", cfg.Web.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("AGORA_CONFIG", "/nonexistent/agora.yaml")
	os.Setenv("AGORA_STORE_PATH", "/tmp/override.db")
	os.Setenv("AGORA_NATS_PORT", "14222")
	defer func() {
		os.Unsetenv("AGORA_CONFIG")
		os.Unsetenv("AGORA_STORE_PATH")
		os.Unsetenv("AGORA_NATS_PORT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("expected env-overridden store path, got '%s'", cfg.Store.Path)
	}
	if cfg.NATS.Port != 14222 {
		t.Errorf("expected env-overridden nats port, got %d", cfg.NATS.Port)
	}
}
