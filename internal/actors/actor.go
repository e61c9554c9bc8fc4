// Package actors defines the worker abstraction consumed by the scheduler:
// the Actor interface, factories bound to capability sets, and the built-in
// actor kinds available to job files.
package actors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrBroken marks an actor instance as unusable. When Consume returns an
// error wrapping ErrBroken the scheduler retires the instance.
var ErrBroken = errors.New("actor broken")

// Actor consumes task arguments one at a time.
type Actor interface {
	// Consume processes a single argument. It is never called concurrently
	// on the same instance.
	Consume(ctx context.Context, argument any) (any, error)
	// Stop releases the instance. It must be safe on an actor that never
	// consumed anything.
	Stop(ctx context.Context) error
}

// Factory creates a fresh actor instance.
type Factory func(ctx context.Context) (Actor, error)

// Func adapts a plain function into a stateless Actor.
type Func func(ctx context.Context, argument any) (any, error)

func (f Func) Consume(ctx context.Context, argument any) (any, error) {
	return f(ctx, argument)
}

func (Func) Stop(context.Context) error { return nil }

// FactoryOf returns a Factory that always hands out a.
func FactoryOf(a Actor) Factory {
	return func(context.Context) (Actor, error) { return a, nil }
}

// Status represents the state of an actor instance.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusStopped Status = "stopped"
)

// Instance is a point-in-time view of a live actor.
type Instance struct {
	ID          string `json:"id"`
	Binding     string `json:"binding"`
	Set         string `json:"set"`
	Status      Status `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
}

// GenerateInstanceID creates a unique actor instance identifier.
func GenerateInstanceID(binding string) string {
	u := uuid.New().String()
	return fmt.Sprintf("%s-%s", binding, strings.ReplaceAll(u[:8], "-", ""))
}

// SafeConsume calls a.Consume and turns a panic into an error.
func SafeConsume(ctx context.Context, a Actor, argument any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("actor panicked: %v", r)
		}
	}()
	return a.Consume(ctx, argument)
}
