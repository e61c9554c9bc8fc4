package config

import (
	"os"
	"path/filepath"
)

// CapqPath returns the capq data directory: $CAPQ_PATH, or ~/.capq.
func CapqPath() string {
	if v := os.Getenv("CAPQ_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".capq")
	}
	return filepath.Join(home, ".capq")
}

// Layout names the files and directories kept under a data directory.
type Layout struct {
	Root string
}

// DefaultLayout is the layout rooted at CapqPath.
func DefaultLayout() Layout { return Layout{Root: CapqPath()} }

func (l Layout) Config() string { return filepath.Join(l.Root, "config.jsonc") }
func (l Layout) Dotenv() string { return filepath.Join(l.Root, ".env") }
func (l Layout) AgeKey() string { return filepath.Join(l.Root, ".age-key") }

// Journal returns the default journal location for driver: a database file
// for sqlite, a directory of run files otherwise.
func (l Layout) Journal(driver string) string {
	if driver == "sqlite" {
		return filepath.Join(l.Root, "journal.db")
	}
	return l.Runs()
}

func (l Layout) Runs() string { return filepath.Join(l.Root, "runs") }
func (l Layout) Logs() string { return filepath.Join(l.Root, "logs") }
func (l Layout) Jobs() string { return filepath.Join(l.Root, "jobs") }

// Dirs lists the directories init creates, root first.
func (l Layout) Dirs() []string {
	return []string{l.Root, l.Runs(), l.Logs(), l.Jobs()}
}

// ConfigPath returns the config file of the default layout.
func ConfigPath() string { return DefaultLayout().Config() }

// DotenvPath returns the .env file of the default layout.
func DotenvPath() string { return DefaultLayout().Dotenv() }
