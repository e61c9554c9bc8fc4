package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/heartbeat"
	"github.com/dohr-michael/capq/internal/scheduler"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show running capq processes",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			maxAge := 4 * cfg.Heartbeat.Interval.Duration()

			entries, err := heartbeat.Scan(cfg.Heartbeat.Dir, maxAge)
			if err != nil {
				return fmt.Errorf("check heartbeats: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No capq process running.")
				return nil
			}

			for _, e := range entries {
				if e.Err != nil {
					fmt.Printf("%s: UNREADABLE (%v)\n", e.Path, e.Err)
					continue
				}
				hb := e.Heartbeat
				switch e.Status {
				case heartbeat.StatusAlive:
					fmt.Printf("%s: ALIVE (PID %d, uptime %s, %s)\n", hb.Role, hb.PID, hb.Uptime, hb.Address)
					printStats(hb)
				case heartbeat.StatusStale:
					fmt.Printf("%s: STALE (PID %d, last heartbeat %s ago)\n",
						hb.Role, hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
				}
			}
			return nil
		},
	}
}

func printStats(hb *heartbeat.Heartbeat) {
	if len(hb.Stats) == 0 {
		return
	}
	if hb.Role == "run" {
		var snap scheduler.Snapshot
		if err := json.Unmarshal(hb.Stats, &snap); err == nil {
			fmt.Printf("  backend %s, used %s of %s, queued %d, in flight %d, completed %d, failed %d\n",
				snap.Backend, snap.Used, snap.Limits, snap.Queued, snap.InFlight, snap.Completed, snap.Failed)
			return
		}
	}
	fmt.Printf("  %s\n", hb.Stats)
}
