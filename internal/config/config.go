// Package config loads the capq JSONC configuration.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for capq.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Gateway   GatewayConfig   `json:"gateway"`
	Journal   JournalConfig   `json:"journal"`
	Events    EventsConfig    `json:"events"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Log       LogConfig       `json:"log"`
}

// SchedulerConfig holds scheduler and backend defaults.
type SchedulerConfig struct {
	Backend         string   `json:"backend"`
	Workers         int      `json:"workers,omitempty"`
	RemoteURL       string   `json:"remote_url,omitempty"` // ws://host:port/api/worker
	DialTimeout     Duration `json:"dial_timeout,omitempty"`
	MinQueueSize    int      `json:"min_queue_size,omitempty"`
	MaxBypass       int      `json:"max_bypass,omitempty"`
	MaxActorsPerSet int      `json:"max_actors_per_set,omitempty"`
	Verbose         bool     `json:"verbose,omitempty"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JournalConfig selects where run results are recorded.
type JournalConfig struct {
	Driver  string `json:"driver"` // "file", "sqlite"
	Path    string `json:"path"`
	Disable bool   `json:"disable,omitempty"`
}

// EventsConfig holds event bus settings. Persist writes each run's events
// to LogDir/<run_id>.jsonl.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	Persist    bool   `json:"persist,omitempty"`
	LogDir     string `json:"log_dir,omitempty"`
}

// HeartbeatConfig configures liveness files of long-running commands.
type HeartbeatConfig struct {
	Interval Duration `json:"interval"`
	Dir      string   `json:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

// SlogLevel maps Level to a slog.Level, defaulting to Info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
