package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Reloader re-reads .env and the config file on SIGHUP. Only the log level
// takes effect live; the scheduler, backend and gateway read their sections
// once, so changes there are reported as needing a restart.
type Reloader struct {
	configPath string
	dotenvPath string
	level      *slog.LevelVar
	debug      bool // --debug pins the level

	mu      sync.Mutex
	current Config
}

// NewReloader tracks initial, as loaded from configPath, and drives level
// from its log section. A nil level is left alone.
func NewReloader(configPath, dotenvPath string, initial *Config, level *slog.LevelVar, debug bool) *Reloader {
	return &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
		level:      level,
		debug:      debug,
		current:    *initial,
	}
}

// Current returns a copy of the last loaded config.
func (r *Reloader) Current() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload re-reads both files and applies the log level. It returns the
// sections that changed but only apply after a restart. A config that fails
// to load leaves everything as it was.
func (r *Reloader) Reload() (restart []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return nil, fmt.Errorf("reload dotenv: %w", err)
	}
	cfg, err := LoadOrDefault(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	restart = restartSections(&r.current, cfg)
	r.current = *cfg
	if r.level != nil && !r.debug {
		r.level.Set(cfg.Log.SlogLevel())
	}
	slog.Info("config reloaded", "path", r.configPath, "log_level", cfg.Log.Level)
	if len(restart) > 0 {
		slog.Warn("config changes need a restart", "sections", restart)
	}
	return restart, nil
}

// Watch reloads on every SIGHUP until ctx is done.
func (r *Reloader) Watch(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)
	for {
		select {
		case <-sig:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func restartSections(old, cur *Config) []string {
	var out []string
	if old.Scheduler != cur.Scheduler {
		out = append(out, "scheduler")
	}
	if old.Gateway != cur.Gateway {
		out = append(out, "gateway")
	}
	if old.Journal != cur.Journal {
		out = append(out, "journal")
	}
	if old.Events != cur.Events {
		out = append(out, "events")
	}
	if old.Heartbeat != cur.Heartbeat {
		out = append(out, "heartbeat")
	}
	return out
}
