package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/tasks"
)

// fakeClock jumps straight to whatever time it is asked to wait for.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// stuckClock never fires.
type stuckClock struct{}

func (stuckClock) Now() time.Time                       { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
func (stuckClock) After(time.Duration) <-chan time.Time { return nil }

func template() []*tasks.Task {
	c := resources.NewCapability("tick", resources.Quantities{resources.CPU: 1})
	return []*tasks.Task{tasks.New("ping", c), tasks.New("pong", c)}
}

func TestCronProducer_FiresUntilMaxRuns(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 2, 30, 0, time.UTC)}
	tmpl := template()
	p, err := NewCronProducer("*/5 * * * *", tmpl, Options{MaxRuns: 3, Clock: clock})
	if err != nil {
		t.Fatalf("NewCronProducer: %v", err)
	}

	seen := map[string]bool{}
	for i := range 3 {
		batch, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if len(batch) != len(tmpl) {
			t.Fatalf("batch size: got %d, want %d", len(batch), len(tmpl))
		}
		for j, tk := range batch {
			if tk.Argument != tmpl[j].Argument {
				t.Errorf("argument: got %v, want %v", tk.Argument, tmpl[j].Argument)
			}
			if tk.ID == tmpl[j].ID || seen[tk.ID] {
				t.Errorf("task %s reused an ID", tk.ID)
			}
			seen[tk.ID] = true
		}
	}

	if _, err := p.Next(context.Background()); !errors.Is(err, tasks.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if p.Runs() != 3 {
		t.Errorf("Runs: got %d, want 3", p.Runs())
	}

	want := []time.Duration{150 * time.Second, 5 * time.Minute, 5 * time.Minute}
	for i, d := range want {
		if clock.waits[i] != d {
			t.Errorf("wait #%d: got %v, want %v", i, clock.waits[i], d)
		}
	}
}

func TestCronProducer_ContextDone(t *testing.T) {
	p, err := NewCronProducer("@every 1m", template(), Options{Clock: stuckClock{}})
	if err != nil {
		t.Fatalf("NewCronProducer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx); !errors.Is(err, tasks.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if p.Runs() != 0 {
		t.Errorf("Runs: got %d, want 0", p.Runs())
	}
}

func TestCronProducer_PublishesEvents(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()

	ch, unsubscribe := bus.SubscribeChan(4, events.EventTriggerFired)
	defer unsubscribe()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, err := NewCronProducer("@hourly", template(), Options{MaxRuns: 1, Clock: clock, Bus: bus})
	if err != nil {
		t.Fatalf("NewCronProducer: %v", err)
	}
	ctx := events.ContextWithRunID(context.Background(), "run_cron")
	if _, err := p.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	select {
	case e := <-ch:
		payload, ok := events.ExtractPayload[events.TriggerFiredPayload](e)
		if !ok {
			t.Fatalf("unexpected payload %T", e.Payload)
		}
		if payload.Run != 1 || payload.Tasks != 2 || payload.Spec != "@hourly" {
			t.Errorf("payload = %+v", payload)
		}
		if e.RunID != "run_cron" {
			t.Errorf("run id: got %q", e.RunID)
		}
	case <-time.After(time.Second):
		t.Fatal("no trigger.fired event")
	}
}

func TestNewCronProducer_Specs(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "@hourly", "@every 30s", "0 12 * * 1-5"} {
		p, err := NewCronProducer(spec, template(), Options{})
		if err != nil {
			t.Fatalf("NewCronProducer(%q): %v", spec, err)
		}
		if p.Spec() != spec {
			t.Errorf("Spec() = %q, want %q", p.Spec(), spec)
		}
	}
	for _, spec := range []string{"every tuesday", "* * * *", "@every soon"} {
		if _, err := NewCronProducer(spec, template(), Options{}); err == nil {
			t.Errorf("NewCronProducer(%q): expected parse error", spec)
		}
	}
}

func TestCronProducer_WaitsForNextActivation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	p, err := NewCronProducer("0 12 * * *", template(), Options{MaxRuns: 1, Clock: clock})
	if err != nil {
		t.Fatalf("NewCronProducer: %v", err)
	}
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(clock.waits) != 1 || clock.waits[0] != 2*time.Hour {
		t.Errorf("waits = %v, want [2h]", clock.waits)
	}
}

func TestCronProducer_RunsDoesNotWaitOnNext(t *testing.T) {
	p, err := NewCronProducer("@every 1m", template(), Options{Clock: stuckClock{}})
	if err != nil {
		t.Fatalf("NewCronProducer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	waiting := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx)
		waiting <- err
	}()

	read := make(chan int, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		read <- p.Runs()
	}()
	select {
	case n := <-read:
		if n != 0 {
			t.Errorf("Runs() = %d, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Runs() blocked behind a waiting Next")
	}

	cancel()
	if err := <-waiting; !errors.Is(err, tasks.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}
