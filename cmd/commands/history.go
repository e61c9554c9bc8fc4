package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/journal"
	"github.com/dohr-michael/capq/internal/storage"
)

// NewHistoryCommand returns the history subcommand.
func NewHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List recorded runs, or show the results of one run",
		ArgsUsage: "[run_id]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "With a run ID, also print the run's persisted events",
			},
		},
		Action: runHistory,
	}
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := journal.Open(cfg.Journal.Driver, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	if runID := cmd.Args().First(); runID != "" {
		if err := showRun(ctx, store, runID); err != nil {
			return err
		}
		if cmd.Bool("events") {
			return showEvents(cfg.Events.LogDir, runID)
		}
		return nil
	}

	runs, err := store.Runs(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	if limit := cmd.Int("limit"); limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tBACKEND\tCOMPLETED\tFAILED\tJOB")
	for _, r := range runs {
		duration := "running"
		if r.Finished() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			r.Backend,
			r.Summary.Completed,
			r.Summary.Failed,
			r.Job,
		)
	}
	return w.Flush()
}

func showRun(ctx context.Context, store journal.Store, runID string) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	var run *journal.Run
	for i := range runs {
		if runs[i].ID == runID {
			run = &runs[i]
			break
		}
	}
	if run == nil {
		return fmt.Errorf("%s: %w", runID, journal.ErrRunNotFound)
	}

	fmt.Printf("ID:          %s\n", run.ID)
	fmt.Printf("Job:         %s\n", run.Job)
	fmt.Printf("Backend:     %s\n", run.Backend)
	fmt.Printf("Limits:      %s\n", run.Limits)
	fmt.Printf("Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.Finished() {
		fmt.Printf("Finished:    %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Completed:   %d\n", run.Summary.Completed)
		fmt.Printf("Failed:      %d\n", run.Summary.Failed)
		if run.Summary.Discarded > 0 {
			fmt.Printf("Discarded:   %d\n", run.Summary.Discarded)
		}
		if run.Summary.Error != "" {
			fmt.Printf("\nError: %s\n", run.Summary.Error)
		}
	}

	entries, err := store.Entries(ctx, runID)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Println("\nResults:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSET\tACTOR\tSTATUS\tATTEMPTS\tOUTPUT")
	for _, e := range entries {
		status, output := "ok", string(e.Value)
		if !e.OK {
			status, output = "failed", e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.TaskID, e.Set, e.ActorID, status, e.Attempts, truncate(output, 60))
	}
	return w.Flush()
}

func showEvents(dir, runID string) error {
	evs, err := storage.ReadEvents(dir, runID)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Println("\nNo events persisted for this run.")
		return nil
	}

	fmt.Println("\nEvents:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tTASK\tDETAIL")
	for _, e := range evs {
		taskID, _ := e.Payload["task_id"].(string)
		if taskID == "" {
			taskID = "-"
		}
		detail, _ := e.Payload["error"].(string)
		if detail == "" {
			detail, _ = e.Payload["actor_id"].(string)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("15:04:05.000"), e.Type, taskID, truncate(detail, 60))
	}
	return w.Flush()
}
