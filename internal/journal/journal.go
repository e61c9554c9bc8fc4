// Package journal records runs and their task outcomes.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/tasks"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run describes one scheduler run.
type Run struct {
	ID         string               `json:"id"`
	Job        string               `json:"job"`
	Backend    string               `json:"backend"`
	Limits     resources.Quantities `json:"limits,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Summary    Summary              `json:"summary"`
}

// Finished reports whether FinishRun was recorded.
func (r Run) Finished() bool { return r.FinishedAt != nil }

// Summary is the outcome of a finished run.
type Summary struct {
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Discarded int    `json:"discarded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Entry is the stored form of a task result.
type Entry struct {
	TaskID     string          `json:"task_id"`
	Set        string          `json:"set"`
	Actor      string          `json:"actor"`
	ActorID    string          `json:"actor_id,omitempty"`
	OK         bool            `json:"ok"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// NewEntry converts r. Values that cannot be encoded as JSON are stored as
// their fmt rendering.
func NewEntry(r tasks.Result) Entry {
	e := Entry{
		TaskID:     r.TaskID,
		Set:        r.Set.String(),
		Actor:      r.Actor,
		ActorID:    r.ActorID,
		OK:         r.OK(),
		Attempts:   r.Attempts,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if r.Value != nil {
		data, err := json.Marshal(r.Value)
		if err != nil {
			data, _ = json.Marshal(fmt.Sprint(r.Value))
		}
		e.Value = data
	}
	return e
}

// Store persists runs and entries.
type Store interface {
	BeginRun(ctx context.Context, run Run) error
	Record(ctx context.Context, runID string, r tasks.Result) error
	FinishRun(ctx context.Context, runID string, s Summary) error
	// Runs lists runs, newest first.
	Runs(ctx context.Context) ([]Run, error)
	// Entries lists a run's entries in recording order.
	Entries(ctx context.Context, runID string) ([]Entry, error)
	Close() error
}

// Drivers lists the supported driver names.
func Drivers() []string { return []string{"file", "sqlite"} }

// Open opens a store with the named driver. For "file" path is a directory,
// for "sqlite" a database file.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown journal driver %q (available: %v)", driver, Drivers())
}

// NewRunID creates a unique run identifier.
func NewRunID() string {
	u := uuid.New().String()
	return "run_" + strings.ReplaceAll(u[:8], "-", "")
}

func sortNewestFirst(runs []Run) {
	slices.SortStableFunc(runs, func(a, b Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
}
