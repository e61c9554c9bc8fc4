package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/config"
	"github.com/dohr-michael/capq/internal/jobspec"
	"github.com/dohr-michael/capq/internal/secrets"
)

// loadConfig reads the --config file, falling back to defaults when it is
// missing, and installs the default logger. The returned level follows
// config reloads.
func loadConfig(cmd *cli.Command) (*config.Config, *slog.LevelVar, error) {
	path := cmd.String("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cmd, cfg))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, level, nil
}

func logLevel(cmd *cli.Command, cfg *config.Config) slog.Level {
	if cmd.Bool("debug") {
		return slog.LevelDebug
	}
	return cfg.Log.SlogLevel()
}

// watchReload reloads .env and the config file on SIGHUP. The returned
// func stops watching.
func watchReload(cmd *cli.Command, cfg *config.Config, level *slog.LevelVar) func() {
	r := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg, level, cmd.Bool("debug"))
	ctx, cancel := context.WithCancel(context.Background())
	go r.Watch(ctx)
	return cancel
}

// loadPlan reads and builds the job file at path with the builtin actor kinds.
func loadPlan(path string) (*jobspec.Plan, error) {
	if path == "" {
		return nil, fmt.Errorf("--job is required")
	}
	job, err := jobspec.Load(path)
	if err != nil {
		return nil, err
	}
	if job.Sealed() {
		id, err := secrets.LoadIdentity(secrets.KeyPath())
		if err != nil {
			return nil, fmt.Errorf("%s has encrypted params: %w", path, err)
		}
		if err := job.Unseal(id); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	plan, err := job.Build(actors.NewCatalog())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}
