package backend

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/resources"
)

var localBackends = []string{"direct", "goroutine", "pool"}

type recordingActor struct {
	mu       sync.Mutex
	seen     []any
	active   atomic.Int32
	overlap  atomic.Bool
	stopped  atomic.Int32
	panicsOn any
}

func (a *recordingActor) Consume(_ context.Context, arg any) (any, error) {
	if a.active.Add(1) > 1 {
		a.overlap.Store(true)
	}
	defer a.active.Add(-1)
	if a.panicsOn != nil && arg == a.panicsOn {
		panic("boom")
	}
	time.Sleep(time.Millisecond)
	a.mu.Lock()
	a.seen = append(a.seen, arg)
	a.mu.Unlock()
	return arg, nil
}

func (a *recordingActor) Stop(context.Context) error {
	a.stopped.Add(1)
	return nil
}

func binding(a actors.Actor) actors.Binding {
	return actors.Binding{
		Name: "recorder",
		Set:  resources.NewCapabilitySet(resources.NewCapability("rec", nil)),
		New:  actors.FactoryOf(a),
	}
}

func TestNames_IncludesBuiltins(t *testing.T) {
	names := Names()
	for _, want := range localBackends {
		if !slices.Contains(names, want) {
			t.Errorf("Names() = %v, missing %q", names, want)
		}
	}
	if !slices.IsSorted(names) {
		t.Errorf("Names() not sorted: %v", names)
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("carrier-pigeon", Options{})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("error should name the backend: %v", err)
	}
}

func TestNew_EmptyNameIsDefault(t *testing.T) {
	b, err := New("", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != Default {
		t.Errorf("Name() = %q, want %q", b.Name(), Default)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("goroutine", newGoroutine)
}

func TestBackends_SubmitInOrder(t *testing.T) {
	for _, name := range localBackends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := New(name, Options{Workers: 4})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			a := &recordingActor{}
			h, err := b.Spawn(ctx, binding(a))
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}

			var futures []<-chan Outcome
			for i := range 10 {
				futures = append(futures, h.Submit(ctx, i))
			}
			for i, f := range futures {
				o := <-f
				if o.Err != nil || o.Value != i {
					t.Errorf("outcome %d = %+v", i, o)
				}
			}

			if a.overlap.Load() {
				t.Error("actor consumed concurrently")
			}
			want := []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
			if !slices.Equal(a.seen, want) {
				t.Errorf("order = %v, want %v", a.seen, want)
			}

			if err := b.Join(ctx); err != nil {
				t.Fatalf("Join: %v", err)
			}
			if got := a.stopped.Load(); got != 1 {
				t.Errorf("Stop called %d times, want 1", got)
			}
		})
	}
}

func TestBackends_PanicBecomesError(t *testing.T) {
	for _, name := range localBackends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := New(name, Options{})
			h, err := b.Spawn(ctx, binding(&recordingActor{panicsOn: "bad"}))
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			o := <-h.Submit(ctx, "bad")
			if o.Err == nil || !strings.Contains(o.Err.Error(), "panicked") {
				t.Errorf("expected panic error, got %+v", o)
			}
			if o := <-h.Submit(ctx, "good"); o.Err != nil {
				t.Errorf("actor unusable after panic: %v", o.Err)
			}
			_ = b.Join(ctx)
		})
	}
}

func TestBackends_SubmitAfterStop(t *testing.T) {
	for _, name := range localBackends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := New(name, Options{})
			a := &recordingActor{}
			h, _ := b.Spawn(ctx, binding(a))
			if err := h.Stop(ctx); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if err := h.Stop(ctx); err != nil {
				t.Fatalf("second Stop: %v", err)
			}
			o := <-h.Submit(ctx, 1)
			if !errors.Is(o.Err, ErrStopped) {
				t.Errorf("expected ErrStopped, got %v", o.Err)
			}
			if err := b.Join(ctx); err != nil {
				t.Fatalf("Join: %v", err)
			}
			if got := a.stopped.Load(); got != 1 {
				t.Errorf("Stop called %d times, want 1", got)
			}
		})
	}
}

func TestBackends_FactoryError(t *testing.T) {
	for _, name := range localBackends {
		t.Run(name, func(t *testing.T) {
			b, _ := New(name, Options{})
			bad := actors.Binding{Name: "bad", New: func(context.Context) (actors.Actor, error) {
				return nil, errors.New("no disk")
			}}
			if _, err := b.Spawn(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "no disk") {
				t.Errorf("expected factory error, got %v", err)
			}
		})
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	b, _ := New("pool", Options{Workers: 2})

	var active, peak atomic.Int32
	slow := actors.Func(func(context.Context, any) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})

	var futures []<-chan Outcome
	for range 6 {
		h, err := b.Spawn(ctx, actors.Binding{Name: "slow", New: actors.FactoryOf(slow)})
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		futures = append(futures, h.Submit(ctx, nil))
	}
	for _, f := range futures {
		<-f
	}
	_ = b.Join(ctx)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestSpawnLocal(t *testing.T) {
	ctx := context.Background()
	a := &recordingActor{}
	h, err := SpawnLocal(ctx, binding(a), nil)
	if err != nil {
		t.Fatalf("SpawnLocal: %v", err)
	}
	if o := <-h.Submit(ctx, "x"); o.Value != "x" {
		t.Errorf("got %+v", o)
	}
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestBackends_StopAfterDeadlineStopsActor(t *testing.T) {
	for _, name := range []string{"goroutine", "pool"} {
		t.Run(name, func(t *testing.T) {
			b, _ := New(name, Options{Workers: 2})
			release := make(chan struct{})
			var stopped atomic.Int32
			a := &stoppable{
				consume: func(context.Context, any) (any, error) {
					<-release
					return nil, nil
				},
				stopped: &stopped,
			}
			h, err := b.Spawn(context.Background(), actors.Binding{Name: "busy", New: actors.FactoryOf(a)})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			busy := h.Submit(context.Background(), nil)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := h.Stop(ctx); !errors.Is(err, context.Canceled) {
				t.Errorf("Stop error = %v, want context.Canceled", err)
			}
			if got := stopped.Load(); got != 1 {
				t.Errorf("actor stopped %d times, want 1", got)
			}
			_ = h.Stop(context.Background())
			if got := stopped.Load(); got != 1 {
				t.Errorf("actor stopped %d times after second Stop, want 1", got)
			}

			close(release)
			<-busy
			_ = b.Join(context.Background())
		})
	}
}

type stoppable struct {
	consume actors.Func
	stopped *atomic.Int32
}

func (s *stoppable) Consume(ctx context.Context, arg any) (any, error) {
	return s.consume(ctx, arg)
}

func (s *stoppable) Stop(context.Context) error {
	s.stopped.Add(1)
	return nil
}
