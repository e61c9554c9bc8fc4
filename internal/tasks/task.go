// Package tasks defines the unit of work handled by the scheduler, the
// tagged result it yields, and the producer interface it pulls from.
package tasks

import (
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dohr-michael/capq/internal/resources"
)

// Task is one unit of work: an opaque argument plus the exact capabilities
// an actor must hold to consume it.
type Task struct {
	ID           string                 `json:"id"`
	Argument     any                    `json:"argument"`
	Requirements []resources.Capability `json:"requirements"`
	// AllowedFails is the number of extra attempts after a failed one.
	AllowedFails int               `json:"allowed_fails,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// New creates a task with a fresh ID.
func New(argument any, reqs ...resources.Capability) *Task {
	return &Task{
		ID:           GenerateTaskID(),
		Argument:     argument,
		Requirements: slices.Clone(reqs),
	}
}

// Set returns the exact capability set the task requires.
func (t *Task) Set() resources.CapabilitySet {
	return resources.NewCapabilitySet(t.Requirements...)
}

// WithAllowedFails sets the retry allowance and returns t.
func (t *Task) WithAllowedFails(n int) *Task {
	t.AllowedFails = n
	return t
}

// WithLabel adds a label and returns t.
func (t *Task) WithLabel(key, value string) *Task {
	if t.Labels == nil {
		t.Labels = make(map[string]string)
	}
	t.Labels[key] = value
	return t
}

// Clone copies t under a new ID. The argument is shared.
func (t *Task) Clone() *Task {
	return &Task{
		ID:           GenerateTaskID(),
		Argument:     t.Argument,
		Requirements: slices.Clone(t.Requirements),
		AllowedFails: t.AllowedFails,
		Labels:       maps.Clone(t.Labels),
	}
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
