package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/capq/internal/backend"
	_ "github.com/dohr-michael/capq/internal/backend/remote"
	"github.com/dohr-michael/capq/internal/config"
	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/gateway"
	"github.com/dohr-michael/capq/internal/heartbeat"
	"github.com/dohr-michael/capq/internal/jobspec"
	"github.com/dohr-michael/capq/internal/journal"
	"github.com/dohr-michael/capq/internal/scheduler"
	"github.com/dohr-michael/capq/internal/storage"
	"github.com/dohr-michael/capq/internal/tasks"
	"github.com/dohr-michael/capq/internal/trigger"
)

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a job's tasks on its actors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "job",
				Aliases:  []string{"j"},
				Usage:    "Path to the job file (YAML)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "tasks",
				Usage: "Read task batches from files matching this glob instead of the job's tasks",
			},
			&cli.StringFlag{
				Name:  "cron",
				Usage: "Submit the job's tasks on this cron schedule",
			},
			&cli.IntFlag{
				Name:  "cron-runs",
				Usage: "Stop after this many cron activations (0: until interrupted)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Execution backend (" + fmt.Sprint(backend.Names()) + ")",
			},
			&cli.StringFlag{
				Name:  "remote",
				Usage: "Worker endpoint for the remote backend",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent consumers for the pool backend",
			},
			&cli.IntFlag{
				Name:  "min-queue",
				Usage: "Pull the next batch below this many outstanding tasks",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "Expose stats and events on the gateway while running",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Result format: table or json (default: table on a terminal)",
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Persist the run's events to the event log directory",
			},
			&cli.BoolFlag{
				Name:  "no-journal",
				Usage: "Do not record the run",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit non-zero when any task failed",
			},
			&cli.DurationFlag{
				Name:  "join-timeout",
				Usage: "How long to wait for in-flight tasks before cancelling them",
				Value: 30 * time.Second,
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	cfg, level, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stopWatch := watchReload(cmd, cfg, level)
	defer stopWatch()

	applySchedulerFlags(cmd, cfg)

	format, err := outputFormat(cmd.String("output"))
	if err != nil {
		return err
	}

	jobPath := cmd.String("job")
	plan, err := loadPlan(jobPath)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	if cfg.Events.Persist || cmd.Bool("events") {
		el := storage.NewEventLogger(cfg.Events.LogDir, bus, cfg.Scheduler.Verbose)
		defer el.Close()
	}

	producer, err := buildProducer(cmd, plan, bus)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Registry: plan.Registry,
		Limits:   plan.Limits,
		Backend:  cfg.Scheduler.Backend,
		BackendOptions: backend.Options{
			Workers:     cfg.Scheduler.Workers,
			RemoteURL:   cfg.Scheduler.RemoteURL,
			DialTimeout: cfg.Scheduler.DialTimeout.Duration(),
		},
		Verbose:         cfg.Scheduler.Verbose,
		Bus:             bus,
		MinQueueSize:    cfg.Scheduler.MinQueueSize,
		MaxBypass:       cfg.Scheduler.MaxBypass,
		MaxActorsPerSet: cfg.Scheduler.MaxActorsPerSet,
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	run := journal.Run{
		ID:        journal.NewRunID(),
		Job:       jobPath,
		Backend:   sched.Backend(),
		Limits:    sched.Limits(),
		StartedAt: time.Now(),
	}
	var store journal.Store
	if !cfg.Journal.Disable && !cmd.Bool("no-journal") {
		store, err = journal.Open(cfg.Journal.Driver, cfg.Journal.Path)
		if err == nil {
			err = store.BeginRun(ctx, run)
		}
		if err != nil {
			_ = sched.Join(context.Background())
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
	}

	if cmd.Bool("serve") {
		stop, err := serve(cfg, bus, gateway.Options{Stats: sched},
			heartbeat.Info{Role: "run", Backend: sched.Backend()},
			func() any { return sched.Stats() })
		if err != nil {
			_ = sched.Join(context.Background())
			return err
		}
		defer stop()
	}

	slog.Info("run started", "run_id", run.ID, "job", jobPath, "tasks", len(plan.Tasks))

	out := newResultWriter(os.Stdout, format)
	out.idle = func() bool { return sched.Outstanding() == 0 }
	runCtx := events.ContextWithRunID(ctx, run.ID)

	var runErr error
	for r, err := range sched.Process(runCtx, producer) {
		if err != nil {
			runErr = err
			break
		}
		if store != nil {
			if err := store.Record(ctx, run.ID, r); err != nil {
				slog.Warn("record result", "run_id", run.ID, "task_id", r.TaskID, "error", err)
			}
		}
		if err := out.write(r); err != nil {
			slog.Warn("write result", "task_id", r.TaskID, "error", err)
		}
	}
	if err := out.flush(); err != nil {
		slog.Warn("flush results", "error", err)
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), cmd.Duration("join-timeout"))
	defer cancel()
	if err := sched.Join(joinCtx); err != nil {
		slog.Warn("join scheduler", "error", err)
	}

	st := sched.Stats()
	sum := journal.Summary{Completed: st.Completed, Failed: st.Failed, Discarded: st.Discarded}
	if runErr != nil {
		sum.Error = runErr.Error()
	}
	if store != nil {
		if err := store.FinishRun(context.Background(), run.ID, sum); err != nil {
			slog.Warn("finish run", "run_id", run.ID, "error", err)
		}
	}
	slog.Info("run finished", "run_id", run.ID,
		"completed", sum.Completed, "failed", sum.Failed, "discarded", sum.Discarded)

	switch {
	case errors.Is(runErr, context.Canceled):
		return nil
	case runErr != nil:
		return fmt.Errorf("run %s: %w", run.ID, runErr)
	case cmd.Bool("strict") && sum.Failed > 0:
		return fmt.Errorf("run %s: %d task(s) failed", run.ID, sum.Failed)
	}
	return nil
}

func applySchedulerFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("backend") {
		cfg.Scheduler.Backend = cmd.String("backend")
	}
	if cmd.IsSet("remote") {
		cfg.Scheduler.RemoteURL = cmd.String("remote")
		if !cmd.IsSet("backend") {
			cfg.Scheduler.Backend = "remote"
		}
	}
	if cmd.IsSet("workers") {
		cfg.Scheduler.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("min-queue") {
		cfg.Scheduler.MinQueueSize = cmd.Int("min-queue")
	}
	if cmd.Bool("debug") {
		cfg.Scheduler.Verbose = true
	}
}

func buildProducer(cmd *cli.Command, plan *jobspec.Plan, bus *events.Bus) (tasks.Producer, error) {
	pattern, spec := cmd.String("tasks"), cmd.String("cron")
	switch {
	case pattern != "" && spec != "":
		return nil, fmt.Errorf("--tasks and --cron are mutually exclusive")
	case pattern != "":
		return jobspec.NewGlobProducer(pattern, plan.Capabilities), nil
	case spec != "":
		if len(plan.Tasks) == 0 {
			return nil, fmt.Errorf("--cron needs tasks in the job file")
		}
		return trigger.NewCronProducer(spec, plan.Tasks, trigger.Options{
			MaxRuns: cmd.Int("cron-runs"),
			Bus:     bus,
		})
	}
	return plan.Producer(), nil
}

// serve starts the gateway on the configured address and a heartbeat writer
// embedding hbStats. The returned func shuts both down.
func serve(cfg *config.Config, bus *events.Bus, opts gateway.Options, info heartbeat.Info, hbStats func() any) (func(), error) {
	opts.Host, opts.Port = cfg.Gateway.Host, cfg.Gateway.Port
	srv := gateway.NewServer(bus, opts)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Surface immediate bind failures.
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("start gateway: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	info.Address = net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	hb := heartbeat.NewWriter(heartbeat.Path(cfg.Heartbeat.Dir, info.Role), info, cfg.Heartbeat.Interval.Duration())
	if hbStats != nil {
		hb.WithStats(hbStats)
	}
	if err := os.MkdirAll(cfg.Heartbeat.Dir, 0o755); err != nil {
		slog.Warn("create heartbeat dir", "dir", cfg.Heartbeat.Dir, "error", err)
	}
	hb.Start()

	return func() {
		hb.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("shutdown gateway", "error", err)
		}
	}, nil
}

func outputFormat(v string) (string, error) {
	switch v {
	case "table", "json":
		return v, nil
	case "":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return "table", nil
		}
		return "json", nil
	}
	return "", fmt.Errorf("unknown output format %q (table, json)", v)
}

// resultWriter prints results as an aligned table or one JSON object per line.
// Table rows are flushed whenever idle reports that the current batch is
// fully written.
type resultWriter struct {
	format string
	tw     *tabwriter.Writer
	enc    *json.Encoder
	rows   int
	idle   func() bool
}

func newResultWriter(w io.Writer, format string) *resultWriter {
	if format == "json" {
		return &resultWriter{format: format, enc: json.NewEncoder(w)}
	}
	return &resultWriter{format: format, tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (w *resultWriter) write(r tasks.Result) error {
	if w.enc != nil {
		return w.enc.Encode(journal.NewEntry(r))
	}
	if w.rows == 0 {
		fmt.Fprintln(w.tw, "TASK\tSET\tACTOR\tSTATUS\tATTEMPTS\tDURATION\tOUTPUT")
	}
	w.rows++
	status, output := "ok", fmt.Sprint(r.Value)
	if !r.OK() {
		status, output = "failed", r.Error()
	}
	_, err := fmt.Fprintf(w.tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
		r.TaskID, r.Set, r.ActorID, status, r.Attempts,
		r.Duration().Round(time.Millisecond), truncate(output, 60))
	if err != nil {
		return err
	}
	if w.idle != nil && w.idle() {
		return w.tw.Flush()
	}
	return nil
}

func (w *resultWriter) flush() error {
	if w.tw == nil {
		return nil
	}
	return w.tw.Flush()
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
