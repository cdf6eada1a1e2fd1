// Package dispatcher implements the fleet's central coordinator. The
// Dispatcher owns the worksite registry, the obstacle registry, the task queue
// and the agent records, and is the only component that mutates them.
//
// Every exported operation takes the dispatcher lock for its full duration,
// so a pop-and-reinsert in RequestTask or a generation pass in Tick is never
// observed half done. Events are collected under the lock and handed to the
// EventSink after it is released.
//
// Operations never fail hard: unknown agents, stale completion reports and
// dangling worksite references are logged and tolerated.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"rovers/pkg/protocol"
)

// Mode is the dispatcher's operating mode.
type Mode string

// Mode constants.
const (
	ModeNormal  Mode = "normal"  // Degrade worksites and generate maintenance tasks.
	ModeMapping Mode = "mapping" // Explore a grid of points before normal operation.
)

// --- Interfaces for testability ---

// EventSink receives dispatcher lifecycle events. Production impl writes to
// the SQLite event log.
type EventSink interface {
	Record(ctx context.Context, ev protocol.Event) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, protocol.Event) error { return nil }

// --- Config ---

// Config holds Dispatcher configuration.
type Config struct {
	CriticalMoisture  float64       // Restore-moisture trigger (default 40).
	MoistureTargetMin float64       // Restore target lower bound (default 60).
	MoistureTargetMax float64       // Restore target upper bound (default 75).
	MoistureDecay     float64       // Moisture lost per tick (default 0.5).
	AcidityMin        float64       // Accepted acidity band, low edge (default 6.0).
	AcidityMax        float64       // Accepted acidity band, high edge (default 8.0).
	AcidityTarget     float64       // Adjust-acidity target (default 7.0).
	AcidityDrift      float64       // Max absolute acidity drift per tick (default 0.05).
	StaleAfter        time.Duration // Visit-scan trigger (default 2m).
	WorksiteRadius    float64       // Worksite obstacle radius (default 0.4).
	AgentRadius       float64       // Agent obstacle radius (default 0.35).
	LeaseTimeout      time.Duration // Reclaim assignments older than this (0 = disabled). Must exceed the longest live task.

	Mapping            bool      // Start in mapping mode.
	ExploreBounds      orb.Bound // Region covered by the exploration grid (default ±6.5).
	ExploreGrid        int       // Grid points per axis (default 3).
	ExploreMaxAttempts int       // Attempts per exploration task (default 2).

	Seed uint64 // Seed for drift and restore targets.

	// Resolved marks a fully populated config. Its fields are used as given,
	// so an explicit zero (no decay, no drift, no staleness scan) stays zero.
	Resolved bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Resolved {
		return out
	}
	if out.CriticalMoisture == 0 {
		out.CriticalMoisture = 40
	}
	if out.MoistureTargetMin == 0 {
		out.MoistureTargetMin = 60
	}
	if out.MoistureTargetMax < out.MoistureTargetMin {
		out.MoistureTargetMax = max(75, out.MoistureTargetMin)
	}
	if out.MoistureDecay == 0 {
		out.MoistureDecay = 0.5
	}
	if out.AcidityMin == 0 && out.AcidityMax == 0 {
		out.AcidityMin, out.AcidityMax = 6.0, 8.0
	}
	if out.AcidityTarget == 0 {
		out.AcidityTarget = 7.0
	}
	if out.AcidityDrift == 0 {
		out.AcidityDrift = 0.05
	}
	if out.StaleAfter == 0 {
		out.StaleAfter = 2 * time.Minute
	}
	if out.WorksiteRadius == 0 {
		out.WorksiteRadius = 0.4
	}
	if out.AgentRadius == 0 {
		out.AgentRadius = 0.35
	}
	if out.ExploreBounds.IsZero() {
		out.ExploreBounds = orb.Bound{Min: orb.Point{-6.5, -6.5}, Max: orb.Point{6.5, 6.5}}
	}
	if out.ExploreGrid == 0 {
		out.ExploreGrid = 3
	}
	if out.ExploreMaxAttempts == 0 {
		out.ExploreMaxAttempts = 2
	}
	return out
}

// Acidity readings are kept on the pH scale.
const (
	acidityFloor = 0.0
	acidityCeil  = 14.0
)

// Task priorities. Lower is more urgent.
const (
	PriorityUrgent  = 1
	PriorityRoutine = 2
	PriorityExplore = 3
)

// --- Dispatcher ---

// Dispatcher is the central coordinator.
type Dispatcher struct {
	cfg    Config
	sink   EventSink
	logger *slog.Logger

	mu          sync.Mutex
	mode        Mode
	seeded      bool // exploration grid created
	rng         *rand.Rand
	worksites   map[string]*protocol.Worksite
	siteOrder   []string
	obstacles   map[protocol.ObstacleKey]protocol.Obstacle
	agents      map[string]*protocol.Agent
	queue       []*protocol.Task
	assigned    map[int64]*protocol.Task
	outstanding map[string]int64 // worksite -> queued or assigned task
	reclaimed   map[string]int64 // agent -> task taken back on lease expiry
	nextID      int64

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Dispatcher. A nil sink discards events; a nil logger uses
// slog.Default.
func New(cfg Config, sink EventSink, logger *slog.Logger) *Dispatcher {
	resolved := cfg.withDefaults()
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	mode := ModeNormal
	if resolved.Mapping {
		mode = ModeMapping
	}
	return &Dispatcher{
		cfg:         resolved,
		sink:        sink,
		logger:      logger.With("component", "dispatcher"),
		mode:        mode,
		rng:         rand.New(rand.NewPCG(resolved.Seed, resolved.Seed+1)),
		worksites:   make(map[string]*protocol.Worksite),
		obstacles:   make(map[protocol.ObstacleKey]protocol.Obstacle),
		agents:      make(map[string]*protocol.Agent),
		assigned:    make(map[int64]*protocol.Task),
		outstanding: make(map[string]int64),
		reclaimed:   make(map[string]int64),
		nowFunc:     time.Now,
	}
}

// Mode returns the current operating mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// emit hands events to the sink. Must be called without d.mu held.
func (d *Dispatcher) emit(ctx context.Context, evs []protocol.Event) {
	for _, ev := range evs {
		if ev.Source == "" {
			ev.Source = "dispatcher"
		}
		if err := d.sink.Record(ctx, ev); err != nil {
			d.logger.Warn("record event", "type", ev.Type, "err", err)
		}
	}
}

// --- Registration ---

// RegisterWorksite adds a worksite and its obstacle. A worksite with an empty
// name or an already registered name is skipped with a warning.
func (d *Dispatcher) RegisterWorksite(ctx context.Context, w protocol.Worksite) bool {
	d.mu.Lock()
	if w.Name == "" {
		d.mu.Unlock()
		d.logger.Warn("worksite without a name skipped", "position", w.Position)
		return false
	}
	if _, ok := d.worksites[w.Name]; ok {
		d.mu.Unlock()
		d.logger.Warn("worksite already registered", "worksite", w.Name)
		return false
	}
	if w.LastServiced.IsZero() {
		w.LastServiced = d.nowFunc()
	}
	d.addWorksiteLocked(&w)
	d.mu.Unlock()

	d.logger.Info("worksite registered", "worksite", w.Name, "position", w.Position)
	d.emit(ctx, []protocol.Event{{
		Type:     protocol.EventWorksiteAdded,
		Worksite: w.Name,
		Payload:  w.Position.String(),
	}})
	return true
}

func (d *Dispatcher) addWorksiteLocked(w *protocol.Worksite) {
	d.worksites[w.Name] = w
	d.siteOrder = append(d.siteOrder, w.Name)
	d.upsertObstacleLocked(protocol.ObstacleWorksite, w.Name, w.Position.XY(), d.cfg.WorksiteRadius)
}

func (d *Dispatcher) upsertObstacleLocked(kind protocol.ObstacleKind, owner string, at orb.Point, r float64) {
	o := protocol.Obstacle{
		Kind:   kind,
		Owner:  owner,
		Circle: protocol.Circle{Center: at, Radius: r},
	}
	d.obstacles[o.Key()] = o
}

// RegisterAgent creates an idle agent record and its obstacle. A duplicate id
// is logged and ignored.
func (d *Dispatcher) RegisterAgent(ctx context.Context, id string, pos protocol.Position) {
	d.mu.Lock()
	if _, ok := d.agents[id]; ok {
		d.mu.Unlock()
		d.logger.Warn("register agent", "agent", id, "err", &protocol.DuplicateAgentError{AgentID: id})
		return
	}
	d.agents[id] = &protocol.Agent{
		ID:       id,
		Position: pos,
		Status:   protocol.AgentIdle,
		Battery:  100,
	}
	d.upsertObstacleLocked(protocol.ObstacleAgent, id, pos.XY(), d.cfg.AgentRadius)
	d.mu.Unlock()

	d.logger.Info("agent registered", "agent", id, "position", pos)
	d.emit(ctx, []protocol.Event{{
		Type:    protocol.EventAgentRegistered,
		Source:  id,
		AgentID: id,
		Payload: pos.String(),
	}})
}

// StatusReport is an agent's periodic self-report.
type StatusReport struct {
	Position protocol.Position
	Status   protocol.AgentStatus
	Battery  float64
	QueueLen int
	Task     int64 // Task the agent believes it holds; 0 when none.
}

// ReportStatus overwrites the agent record from r and moves its obstacle.
// Reports from unknown agents are logged and ignored. An agent still working
// a task the dispatcher no longer assigns to it stays idle in the record; the
// first such report after a lease reclaim is logged as stale so the late
// worker is visible.
func (d *Dispatcher) ReportStatus(ctx context.Context, id string, r StatusReport) {
	d.mu.Lock()
	a, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		d.unknownAgent(ctx, id, "report_status")
		return
	}
	a.Position = r.Position
	a.Status = r.Status
	a.Battery = r.Battery
	a.QueueLen = r.QueueLen
	d.upsertObstacleLocked(protocol.ObstacleAgent, id, r.Position.XY(), d.cfg.AgentRadius)

	var lost int64
	if r.Task != 0 && r.Task != a.CurrentTask {
		a.Status = protocol.AgentIdle
		if d.reclaimed[id] == r.Task {
			lost = r.Task
			delete(d.reclaimed, id)
		}
	} else if r.Task == 0 {
		delete(d.reclaimed, id)
	}
	d.mu.Unlock()

	if lost != 0 {
		d.logger.Warn("agent still working a reclaimed task", "agent", id, "task", lost)
		d.emit(ctx, []protocol.Event{{
			Type:    protocol.EventStaleReport,
			AgentID: id,
			TaskID:  lost,
			Payload: "lease reclaimed",
		}})
	}
}

func (d *Dispatcher) unknownAgent(ctx context.Context, id, op string) {
	err := &protocol.UnknownAgentError{AgentID: id, Op: op}
	d.logger.Warn("unknown agent", "agent", id, "op", op)
	d.emit(ctx, []protocol.Event{{
		Type:    protocol.EventUnknownAgent,
		Source:  id,
		AgentID: id,
		Payload: err.Error(),
	}})
}

// --- Lookups ---

// Agent returns a copy of the agent record.
func (d *Dispatcher) Agent(id string) (protocol.Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return protocol.Agent{}, &protocol.UnknownAgentError{AgentID: id}
	}
	return *a, nil
}

// Worksite returns a copy of the named worksite.
func (d *Dispatcher) Worksite(name string) (protocol.Worksite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.worksites[name]
	if !ok {
		return protocol.Worksite{}, &protocol.WorksiteNotFoundError{Worksite: name}
	}
	return *w, nil
}

// AssignedTask returns the full details of an in-flight task.
func (d *Dispatcher) AssignedTask(id int64) (protocol.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.assigned[id]
	if !ok {
		return protocol.Task{}, false
	}
	return *t, true
}

// QueueLen returns the number of queued tasks.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func taskPayload(t *protocol.Task) string {
	return fmt.Sprintf("kind=%s priority=%d", t.Kind(), t.Priority)
}
