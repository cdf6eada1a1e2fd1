package dispatcher

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"rovers/pkg/protocol"
)

// Tick runs one periodic pass. Expired leases are reclaimed first. In normal
// mode worksites then degrade and tasks are generated; in mapping mode the
// exploration grid is queued once and the mode flips to normal after every
// exploration task has left both the queue and the agents.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.mu.Lock()
	evs := d.reclaimLeasesLocked()

	switch d.mode {
	case ModeMapping:
		evs = append(evs, d.mappingLocked()...)
	default:
		d.degradeLocked()
		evs = append(evs, d.generateLocked()...)
	}
	d.mu.Unlock()

	d.emit(ctx, evs)
}

// GenerateTasks runs a task-generation pass and returns how many tasks were
// created.
func (d *Dispatcher) GenerateTasks(ctx context.Context) int {
	d.mu.Lock()
	evs := d.generateLocked()
	d.mu.Unlock()

	d.emit(ctx, evs)
	return len(evs)
}

func (d *Dispatcher) degradeLocked() {
	for _, name := range d.siteOrder {
		w := d.worksites[name]
		r := &w.Readings
		r.Moisture = max(r.Moisture-d.cfg.MoistureDecay, 0)
		drift := (d.rng.Float64()*2 - 1) * d.cfg.AcidityDrift
		r.Acidity = min(max(r.Acidity+drift, acidityFloor), acidityCeil)
	}
}

// generateLocked emits at most one task per worksite without an outstanding
// task. Triggers are checked in order: moisture, acidity, staleness.
func (d *Dispatcher) generateLocked() []protocol.Event {
	now := d.nowFunc()
	var evs []protocol.Event

	for _, name := range d.siteOrder {
		if _, busy := d.outstanding[name]; busy {
			continue
		}
		w := d.worksites[name]

		var details protocol.TaskDetails
		priority := PriorityUrgent
		switch {
		case w.Readings.Moisture < d.cfg.CriticalMoisture:
			lo, hi := d.cfg.MoistureTargetMin, d.cfg.MoistureTargetMax
			details = protocol.RestoreMoisture{Target: lo + d.rng.Float64()*(hi-lo)}
		case w.Readings.Acidity < d.cfg.AcidityMin || w.Readings.Acidity > d.cfg.AcidityMax:
			details = protocol.AdjustAcidity{Target: d.cfg.AcidityTarget}
		case d.cfg.StaleAfter > 0 && now.Sub(w.LastServiced) > d.cfg.StaleAfter:
			details = protocol.VisitScan{}
			priority = PriorityRoutine
		default:
			continue
		}

		t := d.newTaskLocked(name, details, priority)
		evs = append(evs, protocol.Event{
			Type:     protocol.EventTaskGenerated,
			TaskID:   t.ID,
			Worksite: name,
			Payload:  taskPayload(t),
		})
	}
	return evs
}

// mappingLocked seeds the exploration grid on its first call and switches to
// normal mode once no exploration task is queued or assigned.
func (d *Dispatcher) mappingLocked() []protocol.Event {
	if !d.seeded {
		d.seeded = true
		var evs []protocol.Event
		for i, pt := range ExploreGrid(d.cfg.ExploreBounds, d.cfg.ExploreGrid) {
			t := d.newTaskLocked(protocol.ExploreTargetName(i), protocol.ExplorePoint{Target: pt}, PriorityExplore)
			evs = append(evs, protocol.Event{
				Type:     protocol.EventTaskGenerated,
				TaskID:   t.ID,
				Worksite: t.Worksite,
				Payload:  fmt.Sprintf("%s target=(%.2f, %.2f)", taskPayload(t), pt.X(), pt.Y()),
			})
		}
		d.logger.Info("exploration grid queued", "tasks", len(evs))
		return evs
	}

	for _, t := range d.queue {
		if t.IsExploration() {
			return nil
		}
	}
	for _, t := range d.assigned {
		if t.IsExploration() {
			return nil
		}
	}

	d.mode = ModeNormal
	d.logger.Info("mapping complete", "worksites", len(d.worksites))
	return []protocol.Event{{
		Type:    protocol.EventModeChange,
		Payload: fmt.Sprintf("%s->%s worksites=%d", ModeMapping, ModeNormal, len(d.worksites)),
	}}
}

// ExploreGrid returns n×n points evenly spaced over b, row by row. Points sit
// at cell centers so none lies on the boundary.
func ExploreGrid(b orb.Bound, n int) []orb.Point {
	if n <= 0 {
		return nil
	}
	dx := (b.Max.X() - b.Min.X()) / float64(n)
	dy := (b.Max.Y() - b.Min.Y()) / float64(n)
	pts := make([]orb.Point, 0, n*n)
	for row := range n {
		for col := range n {
			pts = append(pts, orb.Point{
				b.Min.X() + dx*(float64(col)+0.5),
				b.Min.Y() + dy*(float64(row)+0.5),
			})
		}
	}
	return pts
}

// reclaimLeasesLocked returns tasks held longer than LeaseTimeout to the head
// of the queue and sets their agents idle. Leases recover work from agents
// that died; a live agent is not told, and its later reports for the task
// are stale.
func (d *Dispatcher) reclaimLeasesLocked() []protocol.Event {
	if d.cfg.LeaseTimeout <= 0 {
		return nil
	}
	now := d.nowFunc()
	var evs []protocol.Event
	for _, id := range d.sortedAgentIDsLocked() {
		a := d.agents[id]
		if a.CurrentTask == 0 || now.Sub(a.AssignedAt) < d.cfg.LeaseTimeout {
			continue
		}
		t, ok := d.assigned[a.CurrentTask]
		if !ok {
			continue
		}
		delete(d.assigned, t.ID)
		d.pushFrontLocked(t)
		a.Status = protocol.AgentIdle
		a.CurrentTask = 0
		a.Target = ""
		d.reclaimed[id] = t.ID

		d.logger.Warn("lease expired", "agent", id, "task", t.ID, "worksite", t.Worksite)
		evs = append(evs, protocol.Event{
			Type:     protocol.EventLeaseExpired,
			AgentID:  id,
			TaskID:   t.ID,
			Worksite: t.Worksite,
			Payload:  fmt.Sprintf("held=%s", now.Sub(a.AssignedAt).Round(time.Millisecond)),
		})
	}
	return evs
}

func (d *Dispatcher) sortedAgentIDsLocked() []string {
	ids := make([]string, 0, len(d.agents))
	for id := range d.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// --- Queries ---

// ObstaclesFor returns every registry entry except agent id's own, ordered by
// kind then owner.
func (d *Dispatcher) ObstaclesFor(id string) []protocol.Obstacle {
	d.mu.Lock()
	defer d.mu.Unlock()

	self := protocol.ObstacleKey{Kind: protocol.ObstacleAgent, Owner: id}
	out := make([]protocol.Obstacle, 0, len(d.obstacles))
	for k, o := range d.obstacles {
		if k != self {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b protocol.Obstacle) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Owner, b.Owner))
	})
	return out
}

// Snapshot is a consistent copy of dispatcher state.
type Snapshot struct {
	Mode      Mode
	Agents    []protocol.Agent    // by id
	Worksites []protocol.Worksite // registration order
	Queue     []protocol.Task     // queue order
	Assigned  []protocol.Task     // by task id
}

// Snapshot copies the dispatcher state under one lock.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{Mode: d.mode}
	for _, id := range d.sortedAgentIDsLocked() {
		s.Agents = append(s.Agents, *d.agents[id])
	}
	for _, name := range d.siteOrder {
		s.Worksites = append(s.Worksites, *d.worksites[name])
	}
	for _, t := range d.queue {
		s.Queue = append(s.Queue, *t)
	}
	for _, t := range d.assigned {
		s.Assigned = append(s.Assigned, *t)
	}
	slices.SortFunc(s.Assigned, func(a, b protocol.Task) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

// Outstanding returns the number of tasks queued or assigned for worksite.
func (d *Dispatcher) Outstanding(worksite string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, t := range d.queue {
		if t.Worksite == worksite {
			n++
		}
	}
	for _, t := range d.assigned {
		if t.Worksite == worksite {
			n++
		}
	}
	return n
}
