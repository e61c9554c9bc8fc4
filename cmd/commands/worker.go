package commands

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/backend/remote"
	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/gateway"
	"github.com/dohr-michael/capq/internal/heartbeat"
)

// NewWorkerCommand returns the worker subcommand.
func NewWorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Host a job's actors for schedulers using the remote backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "job",
				Aliases:  []string{"j"},
				Usage:    "Path to the job file declaring the actors",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runWorker,
	}
}

func runWorker(ctx context.Context, cmd *cli.Command) error {
	cfg, level, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stopWatch := watchReload(cmd, cfg, level)
	defer stopWatch()

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	plan, err := loadPlan(cmd.String("job"))
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	worker := remote.NewWorker(remote.RegistryLookup(plan.Registry), slog.Default())
	stop, err := serve(cfg, bus, gateway.Options{Worker: worker},
		heartbeat.Info{Role: "worker", Backend: remote.Name},
		func() any { return map[string]int{"connections": worker.Connections()} })
	if err != nil {
		return err
	}
	defer stop()

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	slog.Info("worker ready", "url", "ws://"+addr+"/api/worker", "bindings", plan.Registry.Len())

	<-ctx.Done()
	slog.Info("shutting down...")
	return nil
}
