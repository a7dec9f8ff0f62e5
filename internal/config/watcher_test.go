package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestConfigWatcher_ManualReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\nfailure_threshold: 3\n")

	initial, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	w, err := NewConfigWatcher(configPath, initial)
	if err != nil {
		t.Fatalf("NewConfigWatcher() error: %v", err)
	}
	defer w.Stop()

	var got *Config
	w.RegisterCallback(func(c *Config) { got = c })

	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\nfailure_threshold: 5\ncooldown: 1m\n")

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if got == nil {
		t.Fatal("callback was not invoked")
	}
	if got.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", got.FailureThreshold)
	}
	if got.Cooldown != time.Minute {
		t.Errorf("expected cooldown 1m, got %v", got.Cooldown)
	}
	if w.Current().FailureThreshold != 5 {
		t.Errorf("Current() should reflect the reload, got %d", w.Current().FailureThreshold)
	}
}

func TestConfigWatcher_RejectsInvalidReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\n")

	initial, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	w, err := NewConfigWatcher(configPath, initial)
	if err != nil {
		t.Fatalf("NewConfigWatcher() error: %v", err)
	}
	defer w.Stop()

	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\nfailure_threshold: 0\n")

	if err := w.Reload(); err == nil {
		t.Error("expected validation error for zero failure threshold")
	}
	if w.Current().FailureThreshold != 3 {
		t.Errorf("failed reload must not replace the config, got %d", w.Current().FailureThreshold)
	}
}

func TestConfigWatcher_WatchesFileChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\n")

	initial, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	w, err := NewConfigWatcher(configPath, initial)
	if err != nil {
		t.Fatalf("NewConfigWatcher() error: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	changed := make(chan *Config, 1)
	w.RegisterCallback(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	writeConfig(t, configPath, "tokens: [\"111:aaa\"]\ncooldown: 2m\n")

	select {
	case got := <-changed:
		if got.Cooldown != 2*time.Minute {
			t.Errorf("expected cooldown 2m, got %v", got.Cooldown)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
