package secrets

import (
	"fmt"

	"filippo.io/age"
)

// Contains reports whether v, or any string nested in its maps and slices,
// is an encrypted blob.
func Contains(v any) bool {
	switch t := v.(type) {
	case string:
		return IsEncrypted(t)
	case map[string]any:
		for _, e := range t {
			if Contains(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if Contains(e) {
				return true
			}
		}
	}
	return false
}

// Reveal returns a copy of v with every encrypted string decrypted. Maps and
// slices are copied; other values are returned as is.
func Reveal(v any, identity age.Identity) (any, error) {
	switch t := v.(type) {
	case string:
		if !IsEncrypted(t) {
			return t, nil
		}
		return Decrypt(t, identity)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := Reveal(e, identity)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := Reveal(e, identity)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}
