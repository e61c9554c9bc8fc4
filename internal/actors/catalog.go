package actors

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrRejected is returned by the echo actor for arguments it is told to fail on.
var ErrRejected = errors.New("argument rejected")

// Params carries kind-specific actor settings from a job file.
type Params map[string]any

// String returns the string value of key, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: expected string, got %T", key, v)
	}
	return s, nil
}

// StringMap returns a map[string]string value of key.
func (p Params) StringMap(key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("param %q: expected mapping, got %T", key, v)
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}

// Duration parses a Go duration string under key.
func (p Params) Duration(key string) (time.Duration, error) {
	s, err := p.String(key, "")
	if err != nil || s == "" {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return d, nil
}

// Builder turns kind-specific params into a Factory.
type Builder func(params Params) (Factory, error)

// Catalog maps actor kind names to builders.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]Builder
}

// NewCatalog returns a catalog with the built-in kinds registered.
func NewCatalog() *Catalog {
	c := &Catalog{kinds: make(map[string]Builder)}
	c.Register("echo", buildEcho)
	c.Register("shell", buildShell)
	c.Register("wasm", buildWasm)
	return c
}

// Register adds or replaces a kind.
func (c *Catalog) Register(kind string, b Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[kind] = b
}

// Build resolves kind and builds a factory from params.
func (c *Catalog) Build(kind string, params Params) (Factory, error) {
	c.mu.RLock()
	b, ok := c.kinds[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown actor kind %q", kind)
	}
	return b(params)
}

// Has reports whether kind is registered.
func (c *Catalog) Has(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.kinds[kind]
	return ok
}

// Kinds lists registered kinds, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// echoActor prefixes its argument. Handy for dry runs and tests.
type echoActor struct {
	prefix string
	failOn string
	delay  time.Duration
}

func buildEcho(params Params) (Factory, error) {
	prefix, err := params.String("prefix", "")
	if err != nil {
		return nil, err
	}
	failOn, err := params.String("fail_on", "")
	if err != nil {
		return nil, err
	}
	delay, err := params.Duration("delay")
	if err != nil {
		return nil, err
	}
	return func(context.Context) (Actor, error) {
		return &echoActor{prefix: prefix, failOn: failOn, delay: delay}, nil
	}, nil
}

func (a *echoActor) Consume(ctx context.Context, argument any) (any, error) {
	s := fmt.Sprint(argument)
	if a.failOn != "" && s == a.failOn {
		return nil, fmt.Errorf("echo %q: %w", s, ErrRejected)
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.prefix + s, nil
}

func (a *echoActor) Stop(context.Context) error { return nil }
