package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/config"
)

// NewInitCommand returns the init subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the capq home directory (~/.capq)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	layout := config.DefaultLayout()
	created := false

	for _, d := range layout.Dirs() {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	files := []struct {
		path    string
		content string
		mode    os.FileMode
	}{
		{layout.Config(), defaultConfig, 0o644},
		{layout.Dotenv(), defaultDotenv, 0o600},
		{filepath.Join(layout.Jobs(), "example.yaml"), exampleJob, 0o644},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
		fmt.Printf("  Created %s\n", f.path)
		created = true
	}

	if !created {
		fmt.Printf("%s is already initialized. Nothing to do.\n", layout.Root)
		return nil
	}
	fmt.Printf("\nTry: capq run --job %s\n", filepath.Join(layout.Jobs(), "example.yaml"))
	return nil
}

const defaultConfig = `{
	// capq configuration. Values may reference ${{ .Env.NAME }}.

	"scheduler": {
		"backend": "goroutine"
		// "workers": 4,            // pool backend
		// "remote_url": "ws://127.0.0.1:18430/api/worker",
		// "min_queue_size": 0,
		// "max_bypass": 16,        // negative: strict arrival order
		// "max_actors_per_set": 0
	},

	"gateway": {
		"host": "127.0.0.1",
		"port": 18430
	},

	"journal": {
		"driver": "file"            // or "sqlite"
	},

	"log": {
		"level": "info"
	}
}
`

const defaultDotenv = `# capq environment variables
# Loaded at startup without overriding existing variables; SIGHUP reloads it.
`

const exampleJob = `limits:
  cpu: 2
  mem: 1000

capabilities:
  upload: {cpu: 1, mem: 100}
  download: {cpu: 1, mem: 300}

actors:
  - name: Uploader
    kind: echo
    capabilities: [upload]
    params: {prefix: "uploaded "}
  - name: Downloader
    kind: echo
    capabilities: [download]
    params: {prefix: "downloaded ", delay: 100ms}

tasks:
  - argument: a.txt
    requires: [upload]
  - argument: b.txt
    requires: [download]
    repeat: 3
`
