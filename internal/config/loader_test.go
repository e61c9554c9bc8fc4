package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
	// This is a JSONC comment
	"scheduler": {
		"backend": "remote",
		"remote_url": "${{ .Env.CAPQ_TEST_WORKER }}",
		"dial_timeout": "3s",
		"min_queue_size": 4,
		"max_bypass": -1,
	},
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999,
	},
	"journal": {"driver": "sqlite", "path": "/var/lib/capq/journal.db"},
	"log": {"level": "debug"},
}`)

	t.Setenv("CAPQ_TEST_WORKER", "ws://worker:18430/api/worker")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Scheduler.Backend != "remote" {
		t.Errorf("expected backend remote, got %s", cfg.Scheduler.Backend)
	}
	if cfg.Scheduler.RemoteURL != "ws://worker:18430/api/worker" {
		t.Errorf("expected expanded remote_url, got %s", cfg.Scheduler.RemoteURL)
	}
	if cfg.Scheduler.DialTimeout.Duration() != 3*time.Second {
		t.Errorf("expected dial_timeout 3s, got %s", cfg.Scheduler.DialTimeout.Duration())
	}
	if cfg.Scheduler.MinQueueSize != 4 || cfg.Scheduler.MaxBypass != -1 {
		t.Errorf("unexpected queue settings: %+v", cfg.Scheduler)
	}
	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9999 {
		t.Errorf("unexpected gateway: %+v", cfg.Gateway)
	}
	if cfg.Journal.Driver != "sqlite" || cfg.Journal.Path != "/var/lib/capq/journal.db" {
		t.Errorf("unexpected journal: %+v", cfg.Journal)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.Log.SlogLevel())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CAPQ_PATH", "/tmp/capq-defaults")

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Scheduler.Backend != "goroutine" {
		t.Errorf("expected default backend goroutine, got %s", cfg.Scheduler.Backend)
	}
	if cfg.Scheduler.DialTimeout.Duration() != 10*time.Second {
		t.Errorf("expected default dial_timeout 10s, got %s", cfg.Scheduler.DialTimeout.Duration())
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18430 {
		t.Errorf("expected default port 18430, got %d", cfg.Gateway.Port)
	}
	if cfg.Journal.Driver != "file" || cfg.Journal.Path != "/tmp/capq-defaults/runs" {
		t.Errorf("unexpected default journal: %+v", cfg.Journal)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer 1024, got %d", cfg.Events.BufferSize)
	}
	if cfg.Events.Persist || cfg.Events.LogDir != "/tmp/capq-defaults/logs" {
		t.Errorf("unexpected default events: %+v", cfg.Events)
	}
	if cfg.Heartbeat.Interval.Duration() != 30*time.Second || cfg.Heartbeat.Dir != "/tmp/capq-defaults" {
		t.Errorf("unexpected default heartbeat: %+v", cfg.Heartbeat)
	}
	if cfg.Log.Level != "info" || cfg.Log.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}
}

func TestLoadDefaults_SqliteJournalPath(t *testing.T) {
	t.Setenv("CAPQ_PATH", "/tmp/capq-defaults")

	cfg, err := Load(writeConfig(t, `{"journal": {"driver": "sqlite"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Journal.Path != "/tmp/capq-defaults/journal.db" {
		t.Errorf("expected sqlite default path, got %s", cfg.Journal.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"gateway": `)); err == nil {
		t.Error("expected parse error for truncated config")
	}
	if _, err := Load(writeConfig(t, `{"scheduler": {"dial_timeout": "soon"}}`)); err == nil {
		t.Error("expected error for invalid duration")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.Backend != "goroutine" {
		t.Errorf("expected defaults for missing file, got %+v", cfg.Scheduler)
	}

	if _, err := LoadOrDefault(writeConfig(t, `not json`)); err == nil {
		t.Error("expected parse error to surface")
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
