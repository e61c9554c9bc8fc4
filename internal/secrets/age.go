// Package secrets encrypts values with age so that job files and .env can
// carry credentials as ENC[age:...] blobs.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/dohr-michael/capq/internal/config"
)

const (
	encPrefix = "ENC[age:"
	encSuffix = "]"
)

// ErrNotEncrypted is returned by Decrypt for values without the ENC[age:...] form.
var ErrNotEncrypted = errors.New("not an encrypted blob")

// KeyPath returns the default age key file path: $CAPQ_PATH/.age-key.
func KeyPath() string {
	return config.DefaultLayout().AgeKey()
}

// EnsureIdentity loads the X25519 identity at path, generating and writing
// one with mode 0600 when the file does not exist. created reports whether
// a new key was written.
func EnsureIdentity(path string) (id *age.X25519Identity, created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		id, err := LoadIdentity(path)
		return id, false, err
	}

	id, err = age.GenerateX25519Identity()
	if err != nil {
		return nil, false, fmt.Errorf("generate age identity: %w", err)
	}
	content := fmt.Sprintf("# created by capq\n# public key: %s\n%s\n", id.Recipient(), id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, false, fmt.Errorf("write age key: %w", err)
	}
	return id, true, nil
}

// LoadIdentity reads the first X25519 identity from the key file at path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age key %s: %w", path, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// Encrypt seals plaintext for recipient as an ENC[age:...] blob.
func Encrypt(plaintext string, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[age:...] blob.
func Decrypt(blob string, identity age.Identity) (string, error) {
	if !IsEncrypted(blob) {
		return "", ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[len(encPrefix) : len(blob)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s has the ENC[age:...] form.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}
