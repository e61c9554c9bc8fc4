// Package backend defines where actor instances live and how a task argument
// reaches them. Backends register themselves by name, the way database/sql
// drivers do; the scheduler picks one from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dohr-michael/capq/internal/actors"
)

// Default is the backend used when none is configured.
const Default = "goroutine"

var (
	// ErrUnknownBackend is returned by New for an unregistered name.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrStopped is delivered for work submitted to a stopped handle.
	ErrStopped = errors.New("actor stopped")
)

// Outcome is the settled value of a submitted argument.
type Outcome struct {
	Value any
	Err   error
}

// Handle addresses one live actor instance.
type Handle interface {
	ID() string
	// Submit hands argument to the actor. The returned channel receives
	// exactly one Outcome. Submissions to one handle are consumed in order.
	Submit(ctx context.Context, argument any) <-chan Outcome
	// Stop halts the instance and calls the actor's Stop.
	Stop(ctx context.Context) error
}

// Backend spawns actor instances.
type Backend interface {
	Name() string
	Spawn(ctx context.Context, b actors.Binding) (Handle, error)
	// Join stops every handle still alive and releases backend resources.
	Join(ctx context.Context) error
}

// Options configures a backend. Fields a backend does not use are ignored.
type Options struct {
	// Workers bounds concurrent Consume calls for the pool backend.
	Workers int
	// RemoteURL is the worker endpoint for the remote backend.
	RemoteURL   string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Constructor builds a backend from options.
type Constructor func(opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a backend available under name. It panics if name is
// already taken or c is nil.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if c == nil {
		panic("backend: Register constructor is nil")
	}
	if _, dup := registry[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	registry[name] = c
}

// New builds the named backend. An empty name selects Default.
func New(name string, opts Options) (Backend, error) {
	if name == "" {
		name = Default
	}
	registryMu.RLock()
	c, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Names())
	}
	b, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return b, nil
}

// Names lists registered backends, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func init() {
	Register("goroutine", newGoroutine)
	Register("direct", newDirect)
	Register("pool", newPool)
}

// Settled returns a channel already holding o.
func Settled(o Outcome) <-chan Outcome {
	ch := make(chan Outcome, 1)
	ch <- o
	return ch
}

// handles tracks live handles so Join can stop the stragglers.
type handles struct {
	mu   sync.Mutex
	live map[string]Handle
}

func (h *handles) add(hd Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live == nil {
		h.live = make(map[string]Handle)
	}
	h.live[hd.ID()] = hd
}

func (h *handles) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, id)
}

// stopAll stops every tracked handle and joins their errors.
func (h *handles) stopAll(ctx context.Context) error {
	h.mu.Lock()
	pending := make([]Handle, 0, len(h.live))
	for _, hd := range h.live {
		pending = append(pending, hd)
	}
	h.mu.Unlock()

	var errs []error
	for _, hd := range pending {
		if err := hd.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", hd.ID(), err))
		}
	}
	return errors.Join(errs...)
}
