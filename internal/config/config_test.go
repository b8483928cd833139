package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOrchestratorDefaults(t *testing.T) {
	cfg := OrchestratorConfig{}.WithDefaults()

	if cfg.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.ConnectionWait != 45*time.Second || cfg.PollInterval != 3*time.Second {
		t.Fatalf("unexpected wait settings: %s / %s", cfg.ConnectionWait, cfg.PollInterval)
	}
	if cfg.MinCallDuration != 120*time.Second {
		t.Fatalf("unexpected min duration %s", cfg.MinCallDuration)
	}
	if cfg.MaxConcurrentCalls != 50 {
		t.Fatalf("unexpected concurrency limit %d", cfg.MaxConcurrentCalls)
	}
	if cfg.QueueDrainInterval != 2*time.Second || cfg.MaxStartDelay != 10 {
		t.Fatalf("unexpected queue settings: %s / %d", cfg.QueueDrainInterval, cfg.MaxStartDelay)
	}
}

func TestOrchestratorDefaultsKeepOverrides(t *testing.T) {
	cfg := OrchestratorConfig{MaxRetries: 5, PollInterval: time.Second}.WithDefaults()
	if cfg.MaxRetries != 5 || cfg.PollInterval != time.Second {
		t.Fatalf("expected overrides to survive, got %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
app:
  name: orchestrator-test
storage:
  driver: memory
orchestrator:
  max_concurrent_calls: 10
  connection_wait: 20s
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "orchestrator-test" || cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected app/storage config: %+v %+v", cfg.App, cfg.Storage)
	}
	if cfg.Orchestrator.MaxConcurrentCalls != 10 || cfg.Orchestrator.ConnectionWait != 20*time.Second {
		t.Fatalf("unexpected orchestrator config: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.MaxRetries != 3 {
		t.Fatalf("expected default retries, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Kafka.EventTopic != "call-session-events" {
		t.Fatalf("expected default event topic, got %q", cfg.Kafka.EventTopic)
	}
}
