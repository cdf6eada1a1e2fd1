package dispatcher

import (
	"context"
	"fmt"

	"rovers/pkg/protocol"
)

// --- Queue ---

// enqueueLocked inserts t after every queued task of equal or higher urgency,
// so equal priorities keep FIFO order.
func (d *Dispatcher) enqueueLocked(t *protocol.Task) {
	t.Status = protocol.TaskQueued
	i := len(d.queue)
	for i > 0 && d.queue[i-1].Priority > t.Priority {
		i--
	}
	d.queue = append(d.queue, nil)
	copy(d.queue[i+1:], d.queue[i:])
	d.queue[i] = t
}

// pushFrontLocked puts t at the head of the queue regardless of priority.
func (d *Dispatcher) pushFrontLocked(t *protocol.Task) {
	t.Status = protocol.TaskQueued
	d.queue = append([]*protocol.Task{t}, d.queue...)
}

// newTaskLocked creates a queued task for worksite and marks it outstanding.
func (d *Dispatcher) newTaskLocked(worksite string, details protocol.TaskDetails, priority int) *protocol.Task {
	d.nextID++
	t := &protocol.Task{
		ID:        d.nextID,
		Worksite:  worksite,
		Details:   details,
		Priority:  priority,
		CreatedAt: d.nowFunc(),
	}
	d.enqueueLocked(t)
	d.outstanding[worksite] = t.ID
	return t
}

// clearOutstandingLocked releases worksite if id is its outstanding task.
func (d *Dispatcher) clearOutstandingLocked(worksite string, id int64) {
	if d.outstanding[worksite] == id {
		delete(d.outstanding, worksite)
	}
}

// --- Assignment ---

// RequestTask hands the most urgent queued task to agent id. It returns false
// when the queue is empty, the agent is busy or unknown, or the head task's
// worksite has disappeared; in the last case the task goes back to the head
// of the queue and the agent record is left as it was.
func (d *Dispatcher) RequestTask(ctx context.Context, id string) (protocol.Task, bool) {
	d.mu.Lock()
	a, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		d.unknownAgent(ctx, id, "request_task")
		return protocol.Task{}, false
	}
	if len(d.queue) == 0 || !a.Status.CanTakeTask() {
		d.mu.Unlock()
		return protocol.Task{}, false
	}

	t := d.queue[0]
	d.queue = d.queue[1:]
	prev := *a
	a.Status = protocol.AgentAssigned
	a.CurrentTask = t.ID
	a.Target = t.Worksite

	if ep, isExplore := t.Details.(protocol.ExplorePoint); isExplore {
		t.Target = ep.Target
		t.Site = protocol.Readings{}
	} else {
		w, exists := d.worksites[t.Worksite]
		if !exists {
			d.pushFrontLocked(t)
			*a = prev
			d.mu.Unlock()

			err := &protocol.WorksiteNotFoundError{Worksite: t.Worksite, TaskID: t.ID}
			d.logger.Warn("dangling task requeued", "agent", id, "task", t.ID, "err", err)
			d.emit(ctx, []protocol.Event{{
				Type:     protocol.EventRequeue,
				AgentID:  id,
				TaskID:   t.ID,
				Worksite: t.Worksite,
				Payload:  err.Error(),
			}})
			return protocol.Task{}, false
		}
		t.Target = w.Position.XY()
		t.Site = w.Readings
	}

	t.Status = protocol.TaskAssigned
	a.AssignedAt = d.nowFunc()
	d.assigned[t.ID] = t
	delete(d.reclaimed, id)
	out := *t
	d.mu.Unlock()

	d.logger.Info("task assigned", "agent", id, "task", out.ID, "kind", out.Kind(), "worksite", out.Worksite)
	d.emit(ctx, []protocol.Event{{
		Type:     protocol.EventAssign,
		AgentID:  id,
		TaskID:   out.ID,
		Worksite: out.Worksite,
		Payload:  taskPayload(&out),
	}})
	return out, true
}

// --- Completion ---

// ReportTaskComplete records the outcome of taskID. A report for a task the
// agent is not holding is stale: the agent is set idle and nothing else
// changes. On success with a result the worksite's service time is refreshed
// and the one reading the task kind corrects is taken from result; every other
// reading keeps its current, possibly degraded, value. Failed exploration tasks are
// requeued until ExploreMaxAttempts is reached; other failed tasks are dropped.
func (d *Dispatcher) ReportTaskComplete(ctx context.Context, id string, taskID int64, success bool, result *protocol.Readings) {
	d.mu.Lock()
	a, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		d.unknownAgent(ctx, id, "report_task_complete")
		return
	}

	if a.CurrentTask == 0 || a.CurrentTask != taskID {
		held := a.CurrentTask
		a.Status = protocol.AgentIdle
		d.mu.Unlock()

		d.logger.Warn("stale completion report", "agent", id, "task", taskID, "holding", held)
		d.emit(ctx, []protocol.Event{{
			Type:    protocol.EventStaleReport,
			AgentID: id,
			TaskID:  taskID,
			Payload: fmt.Sprintf("holding=%d", held),
		}})
		return
	}

	a.Status = protocol.AgentIdle
	a.CurrentTask = 0
	a.Target = ""

	t, tracked := d.assigned[taskID]
	delete(d.assigned, taskID)
	if !tracked {
		d.mu.Unlock()
		d.logger.Warn("completion for untracked task", "agent", id, "task", taskID)
		return
	}

	var evs []protocol.Event
	if success {
		t.Status = protocol.TaskCompleted
		d.clearOutstandingLocked(t.Worksite, t.ID)
		if w, exists := d.worksites[t.Worksite]; exists && result != nil {
			applyResult(&w.Readings, t.Details, result)
			w.LastServiced = d.nowFunc()
		}
		evs = append(evs, protocol.Event{
			Type:     protocol.EventComplete,
			AgentID:  id,
			TaskID:   t.ID,
			Worksite: t.Worksite,
			Payload:  taskPayload(t),
		})
	} else {
		t.Status = protocol.TaskFailed
		t.Attempts++
		evs = append(evs, protocol.Event{
			Type:     protocol.EventFailed,
			AgentID:  id,
			TaskID:   t.ID,
			Worksite: t.Worksite,
			Payload:  fmt.Sprintf("%s attempts=%d", taskPayload(t), t.Attempts),
		})
		if t.IsExploration() && t.Attempts < d.cfg.ExploreMaxAttempts {
			d.enqueueLocked(t)
			evs = append(evs, protocol.Event{
				Type:     protocol.EventRequeue,
				TaskID:   t.ID,
				Worksite: t.Worksite,
				Payload:  fmt.Sprintf("attempts=%d", t.Attempts),
			})
		} else {
			d.clearOutstandingLocked(t.Worksite, t.ID)
		}
	}
	d.mu.Unlock()

	d.logger.Info("task finished", "agent", id, "task", taskID, "success", success)
	d.emit(ctx, evs)
}

// applyResult merges into cur only the field the task kind owns. A scan
// changes no readings.
func applyResult(cur *protocol.Readings, details protocol.TaskDetails, result *protocol.Readings) {
	switch details.(type) {
	case protocol.RestoreMoisture:
		cur.Moisture = result.Moisture
	case protocol.AdjustAcidity:
		cur.Acidity = result.Acidity
	}
}

// --- Discovery ---

// ReportDiscovery upserts the worksite derived from the marker id. An
// existing worksite is moved and its readings refreshed; a new one is created
// with its obstacle.
func (d *Dispatcher) ReportDiscovery(ctx context.Context, id string, disc protocol.Discovery) {
	name := protocol.WorksiteNameForMarker(disc.MarkerID)

	d.mu.Lock()
	if _, ok := d.agents[id]; !ok {
		d.mu.Unlock()
		d.unknownAgent(ctx, id, "report_discovery")
		return
	}

	created := false
	if w, exists := d.worksites[name]; exists {
		w.Position = disc.Position
		w.Readings = disc.Readings
		d.upsertObstacleLocked(protocol.ObstacleWorksite, name, disc.Position.XY(), d.cfg.WorksiteRadius)
	} else {
		created = true
		d.addWorksiteLocked(&protocol.Worksite{
			Name:         name,
			Position:     disc.Position,
			Readings:     disc.Readings,
			LastServiced: d.nowFunc(),
		})
	}
	d.mu.Unlock()

	d.logger.Info("discovery", "agent", id, "marker", disc.MarkerID, "worksite", name, "new", created)
	d.emit(ctx, []protocol.Event{{
		Type:     protocol.EventDiscovery,
		AgentID:  id,
		Worksite: name,
		Payload:  fmt.Sprintf("marker=%d new=%t confidence=%.2f at=%s", disc.MarkerID, created, disc.Confidence, disc.Position),
	}})
}
