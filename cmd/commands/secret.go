package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/capq/internal/config"
	"github.com/dohr-michael/capq/internal/secrets"
)

// NewSecretCommand returns the secret subcommand.
func NewSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Encrypt values for job params and .env",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Create the age key ($CAPQ_PATH/.age-key) if missing and print its recipient",
				Action: runSecretKeygen,
			},
			{
				Name:      "encrypt",
				Usage:     "Print an ENC[age:...] blob to paste into a job file",
				ArgsUsage: "<value>",
				Action:    runSecretEncrypt,
			},
			{
				Name:      "set",
				Usage:     "Store an encrypted variable in .env",
				ArgsUsage: "<KEY> <value>",
				Action:    runSecretSet,
			},
		},
		DefaultCommand: "keygen",
	}
}

func runSecretKeygen(_ context.Context, _ *cli.Command) error {
	path := secrets.KeyPath()
	id, created, err := secrets.EnsureIdentity(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created %s\n", path)
	}
	fmt.Printf("Recipient: %s\n", id.Recipient())
	return nil
}

func seal(value string) (string, error) {
	id, _, err := secrets.EnsureIdentity(secrets.KeyPath())
	if err != nil {
		return "", err
	}
	return secrets.Encrypt(value, id.Recipient())
}

func runSecretEncrypt(_ context.Context, cmd *cli.Command) error {
	value := cmd.Args().First()
	if value == "" {
		return fmt.Errorf("usage: capq secret encrypt <value>")
	}
	blob, err := seal(value)
	if err != nil {
		return err
	}
	fmt.Println(blob)
	return nil
}

func runSecretSet(_ context.Context, cmd *cli.Command) error {
	key, value := cmd.Args().Get(0), cmd.Args().Get(1)
	if key == "" || value == "" || strings.ContainsAny(key, "= \t") {
		return fmt.Errorf("usage: capq secret set <KEY> <value>")
	}
	blob, err := seal(value)
	if err != nil {
		return err
	}
	path := config.DotenvPath()
	if err := secrets.SetEntry(path, key, blob); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("%s stored encrypted in %s\n", key, path)
	return nil
}
