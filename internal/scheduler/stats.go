package scheduler

import (
	"slices"
	"strings"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/resources"
)

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Backend   string               `json:"backend"`
	Limits    resources.Quantities `json:"limits"`
	Used      resources.Quantities `json:"used"`
	Queued    int                  `json:"queued"`
	InFlight  int                  `json:"in_flight"`
	Completed int                  `json:"completed"`
	Failed    int                  `json:"failed"`
	Retried   int                  `json:"retried"`
	Discarded int                  `json:"discarded"`
	Closed    bool                 `json:"closed"`
	Pools     []PoolSnapshot       `json:"pools"`
}

// PoolSnapshot describes the actors of one capability set.
type PoolSnapshot struct {
	Set       string            `json:"set"`
	Actor     string            `json:"actor"`
	State     PoolState         `json:"state"`
	Idle      int               `json:"idle"`
	Busy      int               `json:"busy"`
	Queued    int               `json:"queued"`
	Instances []actors.Instance `json:"instances"`
}

// Stats returns a snapshot of queues, budget, and actors.
func (s *Scheduler) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Backend:   s.backend.Name(),
		Limits:    s.limits.Clone(),
		Used:      s.used.Clone(),
		Queued:    s.queued,
		InFlight:  s.inflight,
		Completed: s.completed,
		Failed:    s.failed,
		Retried:   s.retried,
		Discarded: s.discarded,
		Closed:    s.closed,
	}
	for _, p := range s.pools {
		ps := PoolSnapshot{
			Set:    p.binding.Set.String(),
			Actor:  p.binding.Name,
			State:  p.state,
			Queued: len(p.queue),
		}
		for _, m := range p.members {
			switch m.status {
			case actors.StatusIdle:
				ps.Idle++
			case actors.StatusBusy:
				ps.Busy++
			}
			ps.Instances = append(ps.Instances, actors.Instance{
				ID:          m.handle.ID(),
				Binding:     m.binding,
				Set:         m.set,
				Status:      m.status,
				CurrentTask: m.current,
			})
		}
		slices.SortFunc(ps.Instances, func(a, b actors.Instance) int {
			return strings.Compare(a.ID, b.ID)
		})
		snap.Pools = append(snap.Pools, ps)
	}
	slices.SortFunc(snap.Pools, func(a, b PoolSnapshot) int {
		return strings.Compare(a.Set, b.Set)
	})
	return snap
}
