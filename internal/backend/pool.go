package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/capq/internal/actors"
)

// poolBackend shares one bounded worker group across all actor instances.
// Each handle still consumes its submissions one at a time, in order.
type poolBackend struct {
	log     *slog.Logger
	group   *errgroup.Group
	handles handles
}

func newPool(opts Options) (Backend, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &poolBackend{log: opts.logger(), group: g}, nil
}

func (b *poolBackend) Name() string { return "pool" }

func (b *poolBackend) Spawn(ctx context.Context, binding actors.Binding) (Handle, error) {
	a, err := binding.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binding.Name, err)
	}
	tail := make(chan struct{})
	close(tail)
	h := &poolHandle{
		id:      actors.GenerateInstanceID(binding.Name),
		actor:   a,
		backend: b,
		tail:    tail,
	}
	b.handles.add(h)
	return h, nil
}

func (b *poolBackend) Join(ctx context.Context) error {
	err := b.handles.stopAll(ctx)
	// Workers never return errors; failures travel in Outcome.
	_ = b.group.Wait()
	return err
}

type poolHandle struct {
	id      string
	actor   actors.Actor
	backend *poolBackend

	mu      sync.Mutex
	tail    chan struct{} // closed when the latest submission finished
	stopped bool
}

func (h *poolHandle) ID() string { return h.id }

// Submit blocks while every pool worker is busy.
func (h *poolHandle) Submit(ctx context.Context, argument any) <-chan Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return Settled(Outcome{Err: fmt.Errorf("%s: %w", h.id, ErrStopped)})
	}

	out := make(chan Outcome, 1)
	prev, done := h.tail, make(chan struct{})
	h.tail = done
	h.backend.group.Go(func() error {
		defer close(done)
		<-prev
		v, err := actors.SafeConsume(ctx, h.actor, argument)
		out <- Outcome{Value: v, Err: err}
		return nil
	})
	return out
}

func (h *poolHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	tail := h.tail
	h.mu.Unlock()

	// The actor is stopped even when its last submission outlives ctx.
	var waitErr error
	select {
	case <-tail:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for %s: %w", h.id, ctx.Err())
	}
	h.backend.handles.remove(h.id)
	h.backend.log.Debug("actor instance stopped", "actor_id", h.id)
	return errors.Join(waitErr, h.actor.Stop(context.WithoutCancel(ctx)))
}
