// Package scheduler runs tasks on actors bound to capability sets while
// keeping the summed requirements of in-flight tasks within fixed limits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/tasks"
)

// DefaultMaxBypass is used when Config.MaxBypass is zero.
const DefaultMaxBypass = 16

// pollInterval re-runs dispatch even without a wake-up signal.
const pollInterval = 5 * time.Second

// stopGrace bounds actor stops once the Join deadline has passed.
const stopGrace = 2 * time.Second

var (
	// ErrNoActor is returned when a task's capability set has no binding.
	ErrNoActor = errors.New("no actor bound to capability set")
	// ErrUnreachable is returned by New when a bound set can never fit the limits.
	ErrUnreachable = errors.New("capability set exceeds resource limits")
	// ErrNoBindings is returned by New for a nil or empty registry.
	ErrNoBindings = errors.New("no actor bindings")
	// ErrInvalidLimits is returned by New for negative limits.
	ErrInvalidLimits = errors.New("invalid resource limits")
	// ErrClosed is returned once Join has been called.
	ErrClosed = errors.New("scheduler closed")
	// ErrBusy is returned when Process is called while another Process runs.
	ErrBusy = errors.New("scheduler already processing")
)

// Config configures a Scheduler.
type Config struct {
	Registry *actors.Registry
	Limits   resources.Quantities

	// Backend names the execution backend; empty selects backend.Default.
	Backend        string
	BackendOptions backend.Options

	Logger *slog.Logger
	// Verbose raises dispatch decision logs from Debug to Info.
	Verbose bool
	Bus     *events.Bus

	// MinQueueSize is the number of outstanding tasks below which Process
	// pulls the next batch.
	MinQueueSize int
	// MaxBypass bounds how many younger tasks may start ahead of the oldest
	// blocked one. Zero means DefaultMaxBypass, negative means strict FIFO.
	MaxBypass int
	// MaxActorsPerSet caps live instances per capability set. Zero means
	// no cap beyond the resource limits.
	MaxActorsPerSet int
}

// Scheduler dispatches tasks to actor pools. Bindings are read once, at New.
type Scheduler struct {
	log       *slog.Logger
	verbose   bool
	bus       *events.Bus
	backend   backend.Backend
	limits    resources.Quantities
	minQueue  int
	maxBypass int
	maxActors int

	mu          sync.Mutex
	pools       map[string]*pool
	used        resources.Quantities
	seq         uint64
	queued      int
	inflight    int
	outstanding int // accepted and not yet yielded
	done        []tasks.Result
	completed   int
	failed      int
	retried     int
	discarded   int
	processing  bool
	closed      bool
	// oldest blocked head and how often it was bypassed
	blockedSeq uint64
	bypassed   int

	scheduleCh chan struct{}
	resultCh   chan struct{}
	closing    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	loop   sync.WaitGroup

	joinOnce sync.Once
	joinErr  error
}

// New validates cfg, builds the backend, and starts the dispatch loop.
// Nothing is started when it returns an error.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil || cfg.Registry.Len() == 0 {
		return nil, ErrNoBindings
	}
	if neg := cfg.Limits.Negative(); len(neg) > 0 {
		return nil, fmt.Errorf("%w: negative limit for %v", ErrInvalidLimits, neg)
	}

	pools := make(map[string]*pool)
	for _, b := range cfg.Registry.Bindings() {
		cost := b.Set.Requirements()
		if over := cost.Exceeds(cfg.Limits); len(over) > 0 {
			return nil, fmt.Errorf("%w: %s needs %s, limits %s (over on %v)",
				ErrUnreachable, b.Set, cost, cfg.Limits, over)
		}
		pools[b.Set.Key()] = newPool(b, cost)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	opts := cfg.BackendOptions
	if opts.Logger == nil {
		opts.Logger = log
	}
	be, err := backend.New(cfg.Backend, opts)
	if err != nil {
		return nil, err
	}

	maxBypass := cfg.MaxBypass
	if maxBypass == 0 {
		maxBypass = DefaultMaxBypass
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:        log.With("backend", be.Name()),
		verbose:    cfg.Verbose,
		bus:        cfg.Bus,
		backend:    be,
		limits:     cfg.Limits.Clone(),
		minQueue:   max(cfg.MinQueueSize, 0),
		maxBypass:  maxBypass,
		maxActors:  max(cfg.MaxActorsPerSet, 0),
		pools:      pools,
		used:       resources.Quantities{},
		scheduleCh: make(chan struct{}, 1),
		resultCh:   make(chan struct{}, 1),
		closing:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.loop.Add(1)
	go s.scheduleLoop()
	s.log.Info("scheduler started", "bindings", len(pools), "limits", s.limits.String())
	return s, nil
}

// Backend returns the name of the execution backend.
func (s *Scheduler) Backend() string { return s.backend.Name() }

// Limits returns a copy of the resource limits.
func (s *Scheduler) Limits() resources.Quantities { return s.limits.Clone() }

// Join stops accepting work, discards tasks that were never dispatched,
// waits for in-flight tasks, then stops every actor and the backend.
// If ctx ends first, in-flight tasks are cancelled. Join is idempotent.
func (s *Scheduler) Join(ctx context.Context) error {
	s.joinOnce.Do(func() {
		s.joinErr = s.join(ctx)
	})
	return s.joinErr
}

func (s *Scheduler) join(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	discarded := 0
	for _, p := range s.pools {
		discarded += len(p.queue)
		p.queue = nil
	}
	s.queued = 0
	s.outstanding -= discarded
	s.discarded += discarded
	close(s.closing)
	s.mu.Unlock()

	if discarded > 0 {
		s.log.Warn("discarding queued tasks", "count", discarded)
	}

	waitTasks := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(waitTasks)
	}()
	select {
	case <-waitTasks:
	case <-ctx.Done():
		s.log.Warn("join deadline reached, cancelling in-flight tasks")
		s.cancel()
		<-waitTasks
	}

	s.cancel()
	s.loop.Wait()

	// Actors are stopped even when ctx has already expired.
	stopCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), stopGrace)
		defer cancel()
	}

	var errs []error
	s.mu.Lock()
	var members []*member
	for _, p := range s.pools {
		for _, m := range p.members {
			members = append(members, m)
		}
		p.members = make(map[string]*member)
		p.idle = nil
		p.state = PoolStopped
	}
	s.mu.Unlock()

	for _, m := range members {
		err := m.handle.Stop(stopCtx)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.handle.ID(), err))
		}
		s.publishActorStopped(m, "join", err)
	}
	if err := s.backend.Join(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("join backend: %w", err))
	}

	s.mu.Lock()
	completed, failed := s.completed, s.failed
	s.mu.Unlock()

	s.publish("", events.SchedulerJoinedPayload{
		Completed: completed,
		Failed:    failed,
		Discarded: discarded,
	})
	s.log.Info("scheduler joined", "completed", completed, "failed", failed, "discarded", discarded)
	return errors.Join(errs...)
}

func (s *Scheduler) publish(runID string, payload events.EventPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewTypedEventWithRun(events.SourceScheduler, payload, runID))
}

func (s *Scheduler) publishActorStopped(m *member, reason string, err error) {
	p := events.ActorStoppedPayload{
		ActorID: m.handle.ID(),
		Actor:   m.binding,
		Set:     m.set,
		Reason:  reason,
	}
	if err != nil {
		p.Error = err.Error()
	}
	s.publish("", p)
}

// decision logs a dispatch decision at Debug, or Info when verbose.
func (s *Scheduler) decision(msg string, args ...any) {
	level := slog.LevelDebug
	if s.verbose {
		level = slog.LevelInfo
	}
	s.log.Log(context.Background(), level, msg, args...)
}
