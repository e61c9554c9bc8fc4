// Package trigger produces task batches on a cron schedule.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/tasks"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// parser accepts standard 5-field expressions and descriptors such as
// "@hourly" or "@every 30s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Options configures a CronProducer.
type Options struct {
	// MaxRuns stops the producer after that many activations. Zero means
	// no limit.
	MaxRuns int
	Clock   Clock
	Bus     *events.Bus
	Logger  *slog.Logger
}

// CronProducer emits a fresh copy of a task template at every activation of
// a cron expression.
type CronProducer struct {
	spec     string
	schedule cron.Schedule
	template []*tasks.Task
	maxRuns  int
	clock    Clock
	bus      *events.Bus
	log      *slog.Logger

	// waiting serializes Next; mu guards the counters and is never held
	// across a wait.
	waiting sync.Mutex
	mu      sync.Mutex
	runs    int
	last    time.Time
}

// NewCronProducer parses spec and returns a producer for template.
func NewCronProducer(spec string, template []*tasks.Task, opts Options) (*CronProducer, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CronProducer{
		spec:     spec,
		schedule: schedule,
		template: template,
		maxRuns:  max(opts.MaxRuns, 0),
		clock:    clock,
		bus:      opts.Bus,
		log:      log.With("cron", spec),
	}, nil
}

// Spec returns the cron expression.
func (p *CronProducer) Spec() string { return p.spec }

// Runs returns the number of activations so far.
func (p *CronProducer) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

// Next blocks until the next activation and returns the template with fresh
// task IDs. It returns tasks.ErrExhausted after MaxRuns activations or once
// ctx is done.
func (p *CronProducer) Next(ctx context.Context) ([]*tasks.Task, error) {
	p.waiting.Lock()
	defer p.waiting.Unlock()

	p.mu.Lock()
	runs, last := p.runs, p.last
	p.mu.Unlock()
	if p.maxRuns > 0 && runs >= p.maxRuns {
		return nil, tasks.ErrExhausted
	}

	from := p.clock.Now()
	if last.After(from) {
		from = last
	}
	at := p.schedule.Next(from)
	if at.IsZero() {
		return nil, tasks.ErrExhausted
	}

	select {
	case <-ctx.Done():
		return nil, tasks.ErrExhausted
	case <-p.clock.After(at.Sub(p.clock.Now())):
	}

	p.mu.Lock()
	p.last = at
	p.runs++
	run := p.runs
	p.mu.Unlock()

	batch := make([]*tasks.Task, len(p.template))
	for i, t := range p.template {
		batch[i] = t.Clone()
	}

	p.log.Info("cron trigger fired", "run", run, "tasks", len(batch), "at", at)
	if p.bus != nil {
		p.bus.Publish(events.NewTypedEventWithRun(events.SourceTrigger, events.TriggerFiredPayload{
			Spec:  p.spec,
			Run:   run,
			Tasks: len(batch),
		}, events.RunIDFromContext(ctx)))
	}
	return batch, nil
}
