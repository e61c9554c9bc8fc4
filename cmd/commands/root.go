// Package commands implements the capq command line.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "capq",
		Usage: "Run tasks on capability-bound actors within resource limits",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewRunCommand(),
			NewWorkerCommand(),
			NewValidateCommand(),
			NewBackendsCommand(),
			NewHistoryCommand(),
			NewStatusCommand(),
			NewSecretCommand(),
		},
	}
}
