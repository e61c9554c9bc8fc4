package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dohr-michael/capq/cmd/commands"
	"github.com/dohr-michael/capq/internal/config"
	"github.com/dohr-michael/capq/internal/secrets"
)

func main() {
	if err := config.LoadDotenv(config.DotenvPath()); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}
	if secrets.EnvEncrypted() {
		revealEnv()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := commands.NewRootCommand()
	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// revealEnv decrypts ENC[age:...] values loaded from .env or the process
// environment.
func revealEnv() {
	id, err := secrets.LoadIdentity(secrets.KeyPath())
	if err != nil {
		slog.Warn("encrypted env vars present but no age key", "error", err)
		return
	}
	if _, err := secrets.RevealEnv(id); err != nil {
		slog.Warn("failed to decrypt env vars", "error", err)
	}
}
