package scheduler

import (
	"slices"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/tasks"
)

// PoolState is the lifecycle state of the actors serving one capability set.
type PoolState string

const (
	PoolUninitialized PoolState = "uninitialized"
	PoolActive        PoolState = "active"
	PoolIdle          PoolState = "idle"
	PoolStopped       PoolState = "stopped"
)

// queued is a task waiting for, or holding, a budget reservation.
type queued struct {
	task     *tasks.Task
	cost     resources.Quantities
	seq      uint64
	attempts int
	runID    string
}

type member struct {
	handle  backend.Handle
	binding string
	set     string
	status  actors.Status
	current string
}

// pool holds the queue and live actors of one capability set.
// All fields are guarded by Scheduler.mu.
type pool struct {
	binding  actors.Binding
	cost     resources.Quantities
	queue    []*queued
	members  map[string]*member
	idle     []*member
	inflight int // includes tasks whose actor is still spawning
	state    PoolState
}

func newPool(b actors.Binding, cost resources.Quantities) *pool {
	return &pool{
		binding: b,
		cost:    cost,
		members: make(map[string]*member),
		state:   PoolUninitialized,
	}
}

// takeIdle pops the most recently idled actor, or returns nil.
func (p *pool) takeIdle() *member {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	m := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return m
}

func (p *pool) release(m *member) {
	m.status = actors.StatusIdle
	m.current = ""
	p.idle = append(p.idle, m)
}

func (p *pool) retire(m *member) {
	delete(p.members, m.handle.ID())
	p.idle = slices.DeleteFunc(p.idle, func(x *member) bool { return x == m })
	m.status = actors.StatusStopped
}

// saturated reports whether the per-set instance cap blocks a new dispatch.
func (p *pool) saturated(maxActors int) bool {
	return maxActors > 0 && p.inflight >= maxActors
}

func (p *pool) refreshState() {
	switch {
	case p.state == PoolStopped:
	case p.inflight > 0:
		p.state = PoolActive
	case p.state != PoolUninitialized:
		p.state = PoolIdle
	}
}

func (p *pool) head() *queued {
	if len(p.queue) == 0 {
		return nil
	}
	return p.queue[0]
}
