package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewValidateCommand returns the validate subcommand.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a job file without running it",
		ArgsUsage: "<job.yaml>",
		Action:    runValidate,
	}
}

func runValidate(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: capq validate <job.yaml>")
	}

	plan, err := loadPlan(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTOR\tCAPABILITIES\tREQUIRES")
	for _, b := range plan.Registry.Bindings() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, strings.Join(b.Set.Names(), ","), b.Set.Requirements())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nLimits: %s\nTasks:  %d\n", plan.Limits, len(plan.Tasks))
	if over := plan.Unreachable(); len(over) > 0 {
		for _, o := range over {
			fmt.Printf("  unreachable: %s\n", o)
		}
		return fmt.Errorf("%d actor(s) can never run within the limits", len(over))
	}
	fmt.Println("OK")
	return nil
}
