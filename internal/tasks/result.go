package tasks

import (
	"time"

	"github.com/dohr-michael/capq/internal/resources"
)

// Result is the outcome of one task. Exactly one of Value and Err is
// meaningful: Err == nil means success.
type Result struct {
	TaskID     string
	Argument   any
	Set        resources.CapabilitySet
	Actor      string
	ActorID    string
	Value      any
	Err        error
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the task succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Duration is the wall time of the last attempt.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Error returns the error message, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
