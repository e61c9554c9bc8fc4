package secrets

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"filippo.io/age"
)

// SetEntry writes or updates KEY=VALUE in the .env file at path, keeping
// comments, blank lines and the order of other entries. New keys are
// appended. The file is written with mode 0600.
func SetEntry(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	entry := key + "=" + quoteValue(value)
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}

	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimPrefix(strings.TrimSpace(line), "export ")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// quoteValue double-quotes v when it contains whitespace, quotes, or shell
// metacharacters.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// RevealEnv decrypts, in place, every environment variable holding an
// encrypted blob. It returns the names it decrypted.
func RevealEnv(identity age.Identity) ([]string, error) {
	var revealed []string
	var errs []error
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !IsEncrypted(v) {
			continue
		}
		plain, err := Decrypt(v, identity)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		if err := os.Setenv(k, plain); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		revealed = append(revealed, k)
	}
	slices.Sort(revealed)
	return revealed, errors.Join(errs...)
}

// EnvEncrypted reports whether any environment variable holds an encrypted blob.
func EnvEncrypted() bool {
	for _, kv := range os.Environ() {
		if _, v, ok := strings.Cut(kv, "="); ok && IsEncrypted(v) {
			return true
		}
	}
	return false
}
