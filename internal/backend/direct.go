package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/capq/internal/actors"
)

// directBackend has no actor goroutines: Submit consumes on the caller's
// goroutine and returns a settled channel.
type directBackend struct {
	log     *slog.Logger
	handles handles
}

func newDirect(opts Options) (Backend, error) {
	return &directBackend{log: opts.logger()}, nil
}

func (b *directBackend) Name() string { return "direct" }

func (b *directBackend) Spawn(ctx context.Context, binding actors.Binding) (Handle, error) {
	a, err := binding.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binding.Name, err)
	}
	h := &directHandle{
		id:      actors.GenerateInstanceID(binding.Name),
		actor:   a,
		tracker: &b.handles,
		log:     b.log,
	}
	b.handles.add(h)
	return h, nil
}

func (b *directBackend) Join(ctx context.Context) error {
	return b.handles.stopAll(ctx)
}

type directHandle struct {
	id      string
	actor   actors.Actor
	tracker *handles
	log     *slog.Logger

	mu      sync.Mutex
	stopped bool
}

func (h *directHandle) ID() string { return h.id }

func (h *directHandle) Submit(ctx context.Context, argument any) <-chan Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return Settled(Outcome{Err: fmt.Errorf("%s: %w", h.id, ErrStopped)})
	}
	v, err := actors.SafeConsume(ctx, h.actor, argument)
	return Settled(Outcome{Value: v, Err: err})
}

func (h *directHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	h.tracker.remove(h.id)
	h.log.Debug("actor instance stopped", "actor_id", h.id)
	return h.actor.Stop(ctx)
}
