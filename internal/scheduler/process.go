package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/dohr-michael/capq/internal/events"
	"github.com/dohr-michael/capq/internal/tasks"
)

// Process pulls batches from producer and yields one Result per accepted
// task, in completion order. Task failures are Results with Err set; the
// error value of the sequence is non-nil only for a terminal condition
// (ErrNoActor, a producer error, ctx cancellation, ErrClosed), after which
// the sequence ends.
//
// The producer is polled again once fewer than MinQueueSize tasks are
// outstanding. Processing ends when the producer is exhausted, or returns an
// empty batch while nothing is outstanding, and every task has been yielded.
func (s *Scheduler) Process(ctx context.Context, producer tasks.Producer) iter.Seq2[tasks.Result, error] {
	return func(yield func(tasks.Result, error) bool) {
		if err := s.begin(); err != nil {
			yield(tasks.Result{}, err)
			return
		}
		defer s.end()

		for exhausted := false; ; {
			target := s.minQueue
			if !exhausted {
				batch, err := producer.Next(ctx)
				switch {
				case errors.Is(err, tasks.ErrExhausted):
					exhausted = true
				case err != nil:
					if ctx.Err() != nil {
						err = ctx.Err()
					} else {
						err = fmt.Errorf("producer: %w", err)
					}
					yield(tasks.Result{}, err)
					return
				}

				if len(batch) > 0 {
					if err := s.enqueue(ctx, batch); err != nil {
						yield(tasks.Result{}, err)
						return
					}
				} else if !exhausted {
					if s.Outstanding() == 0 {
						exhausted = true
					} else {
						// Nothing new: wait for one result before polling again.
						target = s.Outstanding() - 1
					}
				}
			}
			if exhausted {
				target = 0
			}

			for s.Outstanding() > target {
				r, err := s.next(ctx)
				if err != nil {
					yield(tasks.Result{}, err)
					return
				}
				if !yield(r, nil) {
					return
				}
			}
			if exhausted {
				return
			}
		}
	}
}

// Outstanding returns the number of accepted tasks not yet yielded.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func (s *Scheduler) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	return nil
}

func (s *Scheduler) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

// enqueue validates the whole batch, then queues it. A batch with any task
// whose exact capability set is unbound is rejected as a whole.
func (s *Scheduler) enqueue(ctx context.Context, batch []*tasks.Task) error {
	runID := events.RunIDFromContext(ctx)

	type entry struct {
		p    *pool
		item *queued
	}
	entries := make([]entry, 0, len(batch))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, t := range batch {
		if t == nil {
			continue
		}
		set := t.Set()
		p, ok := s.pools[set.Key()]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: task %s requires %s", ErrNoActor, t.ID, set)
		}
		entries = append(entries, entry{p: p, item: &queued{task: t, cost: p.cost, runID: runID}})
	}
	for _, e := range entries {
		s.seq++
		e.item.seq = s.seq
		e.p.queue = append(e.p.queue, e.item)
	}
	s.queued += len(entries)
	s.outstanding += len(entries)
	queuedNow := s.queued
	s.mu.Unlock()

	for _, e := range entries {
		s.publish(runID, events.TaskQueuedPayload{
			TaskID: e.item.task.ID,
			Set:    e.p.binding.Set.String(),
			Queued: queuedNow,
		})
	}
	s.decision("batch queued", "tasks", len(entries), "queued", queuedNow)
	s.wakeScheduler()
	return nil
}

// next blocks until a result is available.
func (s *Scheduler) next(ctx context.Context) (tasks.Result, error) {
	for {
		s.mu.Lock()
		if len(s.done) > 0 {
			r := s.done[0]
			s.done[0] = tasks.Result{}
			s.done = s.done[1:]
			s.outstanding--
			s.mu.Unlock()
			return r, nil
		}
		s.mu.Unlock()

		select {
		case <-s.resultCh:
		case <-ctx.Done():
			return tasks.Result{}, ctx.Err()
		case <-s.closing:
			s.mu.Lock()
			empty := len(s.done) == 0
			s.mu.Unlock()
			if empty {
				return tasks.Result{}, ErrClosed
			}
		}
	}
}
