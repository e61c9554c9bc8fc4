package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/tasks"
)

// wakeScheduler sends a non-blocking signal to the schedule loop.
func (s *Scheduler) wakeScheduler() {
	select {
	case s.scheduleCh <- struct{}{}:
	default:
	}
}

// notifyResult wakes a Process waiting for results.
func (s *Scheduler) notifyResult() {
	select {
	case s.resultCh <- struct{}{}:
	default:
	}
}

// scheduleLoop is the main dispatch goroutine.
func (s *Scheduler) scheduleLoop() {
	defer s.loop.Done()

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()

	for {
		s.schedule()

		select {
		case <-s.ctx.Done():
			return
		case <-s.scheduleCh:
		case <-pollTicker.C:
		}
	}
}

// schedule starts every queued task that fits the remaining budget, oldest
// first. Younger tasks may start around a blocked older one at most
// maxBypass times before dispatch waits for capacity.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed {
		heads := s.heads()
		if len(heads) == 0 {
			return
		}

		started := false
		for i, p := range heads {
			item := p.head()
			if p.saturated(s.maxActors) || !item.cost.Fits(s.used, s.limits) {
				if i == 0 && s.maxBypass < 0 {
					return
				}
				continue
			}
			if i > 0 {
				oldest := heads[0].head()
				if s.blockedSeq != oldest.seq {
					s.blockedSeq, s.bypassed = oldest.seq, 0
				}
				if s.bypassed >= s.maxBypass {
					s.decision("holding dispatch for oldest task",
						"task_id", oldest.task.ID, "set", heads[0].binding.Set.String(), "bypassed", s.bypassed)
					return
				}
				s.bypassed++
			}
			s.dispatch(p, item)
			started = true
			break
		}
		if !started {
			return
		}
	}
}

// heads returns pools with queued work ordered by the arrival of their head.
// Caller must hold s.mu.
func (s *Scheduler) heads() []*pool {
	var out []*pool
	for _, p := range s.pools {
		if len(p.queue) > 0 {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *pool) int {
		switch {
		case a.head().seq < b.head().seq:
			return -1
		case a.head().seq > b.head().seq:
			return 1
		}
		return 0
	})
	return out
}

// dispatch reserves budget for item and hands it to an actor.
// Caller must hold s.mu.
func (s *Scheduler) dispatch(p *pool, item *queued) {
	p.queue = p.queue[1:]
	s.queued--
	s.inflight++
	p.inflight++
	s.used = s.used.Add(item.cost)
	item.attempts++

	m := p.takeIdle()
	if m != nil {
		m.status = actors.StatusBusy
		m.current = item.task.ID
	}
	p.state = PoolActive

	s.decision("dispatching task",
		"task_id", item.task.ID,
		"set", p.binding.Set.String(),
		"attempt", item.attempts,
		"spawn", m == nil,
		"used", s.used.String(),
	)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.runTask(p, m, item)
	}()
}

// runTask spawns an actor if needed, runs item on it, and settles the result.
func (s *Scheduler) runTask(p *pool, m *member, item *queued) {
	if m == nil {
		h, err := s.backend.Spawn(s.ctx, p.binding)
		if err != nil {
			now := time.Now()
			s.complete(p, nil, item, backend.Outcome{Err: fmt.Errorf("spawn actor: %w", err)}, now, now)
			return
		}
		m = &member{
			handle:  h,
			binding: p.binding.Name,
			set:     p.binding.Set.String(),
			status:  actors.StatusBusy,
			current: item.task.ID,
		}
		s.mu.Lock()
		p.members[h.ID()] = m
		s.mu.Unlock()

		s.log.Debug("actor spawned", "actor_id", h.ID(), "actor", p.binding.Name, "set", m.set)
		s.publish(item.runID, events.ActorSpawnedPayload{
			ActorID: h.ID(),
			Actor:   p.binding.Name,
			Set:     m.set,
			Backend: s.backend.Name(),
		})
	}

	s.publish(item.runID, events.TaskStartedPayload{
		TaskID:  item.task.ID,
		Set:     m.set,
		ActorID: m.handle.ID(),
		Attempt: item.attempts,
	})

	started := time.Now()
	var outcome backend.Outcome
	select {
	case outcome = <-m.handle.Submit(s.ctx, item.task.Argument):
	case <-s.ctx.Done():
		outcome = backend.Outcome{Err: s.ctx.Err()}
	}
	s.complete(p, m, item, outcome, started, time.Now())
}

// complete releases item's reservation, then either requeues it for another
// attempt or records its result.
func (s *Scheduler) complete(p *pool, m *member, item *queued, o backend.Outcome, started, finished time.Time) {
	broken := m != nil && errors.Is(o.Err, actors.ErrBroken)

	s.mu.Lock()
	s.used = s.used.Sub(item.cost)
	s.inflight--
	p.inflight--

	if m != nil {
		if broken {
			p.retire(m)
		} else if p.state != PoolStopped {
			p.release(m)
		}
	}

	// item may be redispatched once it is requeued and the lock released.
	attempts := item.attempts
	retry := o.Err != nil && attempts <= item.task.AllowedFails && !s.closed
	if retry {
		s.seq++
		item.seq = s.seq
		p.queue = append(p.queue, item)
		s.queued++
		s.retried++
	} else {
		r := tasks.Result{
			TaskID:     item.task.ID,
			Argument:   item.task.Argument,
			Set:        p.binding.Set,
			Actor:      p.binding.Name,
			Value:      o.Value,
			Err:        o.Err,
			Attempts:   item.attempts,
			StartedAt:  started,
			FinishedAt: finished,
		}
		if m != nil {
			r.ActorID = m.handle.ID()
		}
		if o.Err != nil {
			r.Value = nil
			s.failed++
		} else {
			s.completed++
		}
		s.done = append(s.done, r)
	}
	p.refreshState()
	s.mu.Unlock()

	s.wakeScheduler()
	set := p.binding.Set.String()

	switch {
	case retry:
		s.log.Warn("task failed, retrying",
			"task_id", item.task.ID, "set", set, "attempt", attempts, "error", o.Err)
		s.publish(item.runID, events.TaskRetriedPayload{
			TaskID:    item.task.ID,
			Set:       set,
			Attempt:   attempts,
			Remaining: item.task.AllowedFails - attempts + 1,
			Error:     o.Err.Error(),
		})
	case o.Err != nil:
		s.decision("task failed", "task_id", item.task.ID, "set", set, "error", o.Err)
		failed := events.TaskFailedPayload{
			TaskID:   item.task.ID,
			Set:      set,
			Attempts: attempts,
			Error:    o.Err.Error(),
		}
		if m != nil {
			failed.ActorID = m.handle.ID()
		}
		s.publish(item.runID, failed)
	default:
		s.decision("task completed", "task_id", item.task.ID, "set", set, "actor_id", m.handle.ID())
		s.publish(item.runID, events.TaskCompletedPayload{
			TaskID:   item.task.ID,
			Set:      set,
			ActorID:  m.handle.ID(),
			Attempts: attempts,
			Duration: finished.Sub(started),
		})
	}
	if !retry {
		s.notifyResult()
	}

	if broken {
		err := m.handle.Stop(context.WithoutCancel(s.ctx))
		s.log.Warn("actor broken, retired", "actor_id", m.handle.ID(), "set", set, "error", o.Err)
		s.publishActorStopped(m, "broken", err)
	}
}
