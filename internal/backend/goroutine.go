package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/capq/internal/actors"
)

const mailboxSize = 16

type job struct {
	ctx      context.Context
	argument any
	out      chan Outcome
}

// goroutineBackend runs each actor instance on its own goroutine fed by a
// FIFO mailbox.
type goroutineBackend struct {
	log     *slog.Logger
	handles handles
	wg      sync.WaitGroup
}

func newGoroutine(opts Options) (Backend, error) {
	return &goroutineBackend{log: opts.logger()}, nil
}

func (b *goroutineBackend) Name() string { return "goroutine" }

func (b *goroutineBackend) Spawn(ctx context.Context, binding actors.Binding) (Handle, error) {
	return spawnGoroutine(ctx, binding, &b.handles, &b.wg, b.log)
}

func (b *goroutineBackend) Join(ctx context.Context) error {
	err := b.handles.stopAll(ctx)
	b.wg.Wait()
	return err
}

// SpawnLocal starts binding on a dedicated goroutine outside any backend.
// The remote worker hosts its actors this way.
func SpawnLocal(ctx context.Context, binding actors.Binding, log *slog.Logger) (Handle, error) {
	if log == nil {
		log = slog.Default()
	}
	return spawnGoroutine(ctx, binding, nil, nil, log)
}

func spawnGoroutine(ctx context.Context, binding actors.Binding, tracker *handles, wg *sync.WaitGroup, log *slog.Logger) (Handle, error) {
	a, err := binding.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binding.Name, err)
	}
	h := &goroutineHandle{
		id:      actors.GenerateInstanceID(binding.Name),
		actor:   a,
		mailbox: make(chan job, mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		tracker: tracker,
		log:     log,
	}
	if tracker != nil {
		tracker.add(h)
	}
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		h.loop()
	}()
	return h, nil
}

type goroutineHandle struct {
	id      string
	actor   actors.Actor
	mailbox chan job
	quit    chan struct{}
	done    chan struct{}
	tracker *handles
	log     *slog.Logger

	mu       sync.RWMutex // write-held only while closing quit
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

func (h *goroutineHandle) ID() string { return h.id }

func (h *goroutineHandle) Submit(ctx context.Context, argument any) <-chan Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return Settled(Outcome{Err: fmt.Errorf("%s: %w", h.id, ErrStopped)})
	}

	out := make(chan Outcome, 1)
	select {
	case h.mailbox <- job{ctx: ctx, argument: argument, out: out}:
	case <-ctx.Done():
		out <- Outcome{Err: ctx.Err()}
	}
	return out
}

func (h *goroutineHandle) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.drain()
			return
		case j := <-h.mailbox:
			v, err := actors.SafeConsume(j.ctx, h.actor, j.argument)
			j.out <- Outcome{Value: v, Err: err}
		}
	}
}

// drain fails work that was queued behind a stop.
func (h *goroutineHandle) drain() {
	for {
		select {
		case j := <-h.mailbox:
			j.out <- Outcome{Err: fmt.Errorf("%s: %w", h.id, ErrStopped)}
		default:
			return
		}
	}
}

func (h *goroutineHandle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		close(h.quit)
		h.mu.Unlock()

		// The actor is stopped even when its current consume outlives ctx.
		var waitErr error
		select {
		case <-h.done:
		case <-ctx.Done():
			waitErr = fmt.Errorf("wait for %s: %w", h.id, ctx.Err())
		}
		if h.tracker != nil {
			h.tracker.remove(h.id)
		}
		h.stopErr = errors.Join(waitErr, h.actor.Stop(context.WithoutCancel(ctx)))
		h.log.Debug("actor instance stopped", "actor_id", h.id)
	})
	return h.stopErr
}
