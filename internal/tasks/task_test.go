package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/capq/internal/resources"
)

var (
	upload   = resources.NewCapability("file_uploader", resources.Quantities{resources.CPU: 1})
	bigfiles = resources.NewCapability("bigfile_handling", resources.Quantities{resources.Mem: 1000})
)

func TestNew_AssignsID(t *testing.T) {
	a := New("x", upload)
	b := New("x", upload)
	if !strings.HasPrefix(a.ID, "task_") {
		t.Errorf("ID = %q, want task_ prefix", a.ID)
	}
	if a.ID == b.ID {
		t.Errorf("expected distinct IDs, got %q twice", a.ID)
	}
}

func TestTask_SetIsOrderIndependent(t *testing.T) {
	a := New("x", upload, bigfiles)
	b := New("y", bigfiles, upload)
	if !a.Set().Equal(b.Set()) {
		t.Errorf("sets differ: %s vs %s", a.Set(), b.Set())
	}
	if a.Set().Equal(New("z", upload).Set()) {
		t.Error("subset must not equal the full set")
	}
}

func TestTask_Clone(t *testing.T) {
	orig := New("x", upload).WithAllowedFails(2).WithLabel("batch", "1")
	c := orig.Clone()
	if c.ID == orig.ID {
		t.Error("clone kept the original ID")
	}
	if c.AllowedFails != 2 || c.Labels["batch"] != "1" {
		t.Errorf("clone lost fields: %+v", c)
	}
	c.Labels["batch"] = "2"
	if orig.Labels["batch"] != "1" {
		t.Error("clone shares labels with the original")
	}
}

func TestResult_OKAndDuration(t *testing.T) {
	start := time.Now()
	r := Result{StartedAt: start, FinishedAt: start.Add(time.Second)}
	if !r.OK() || r.Error() != "" {
		t.Errorf("expected success, got %+v", r)
	}
	if r.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", r.Duration())
	}
	r.Err = errors.New("boom")
	if r.OK() || r.Error() != "boom" {
		t.Errorf("expected failure, got %+v", r)
	}
	if (Result{}).Duration() != 0 {
		t.Error("zero result should have zero duration")
	}
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	p := Batches([]*Task{New(1, upload)}, []*Task{New(2, upload), New(3, upload)})

	for _, want := range []int{1, 2} {
		b, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(b) != want {
			t.Errorf("batch size = %d, want %d", len(b), want)
		}
	}
	if _, err := p.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestBatches_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Batches([]*Task{}).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRepeat_FreshIDs(t *testing.T) {
	ctx := context.Background()
	p := Repeat(3, []*Task{New("a", upload)})

	seen := map[string]bool{}
	for range 3 {
		b, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if seen[b[0].ID] {
			t.Errorf("duplicate ID %q", b[0].ID)
		}
		seen[b[0].ID] = true
		if b[0].Argument != "a" {
			t.Errorf("argument = %v, want a", b[0].Argument)
		}
	}
	if _, err := p.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}
