package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/journal"
)

// NewBackendsCommand returns the backends subcommand.
func NewBackendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "List execution backends, actor kinds and journal drivers",
		Action: func(_ context.Context, _ *cli.Command) error {
			fmt.Println("Backends:")
			for _, name := range backend.Names() {
				marker := ""
				if name == backend.Default {
					marker = " (default)"
				}
				fmt.Printf("  %s%s\n", name, marker)
			}
			fmt.Println("Actor kinds:")
			for _, kind := range actors.NewCatalog().Kinds() {
				fmt.Printf("  %s\n", kind)
			}
			fmt.Println("Journal drivers:")
			for _, d := range journal.Drivers() {
				fmt.Printf("  %s\n", d)
			}
			return nil
		},
	}
}
