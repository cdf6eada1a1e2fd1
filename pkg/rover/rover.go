// Package rover implements the per-agent controller. Each Tick the controller
// reads the rover's pose, consults its power machine, and then either requests
// a task, follows its planned path, or performs the task's work at the
// worksite. All coordination goes through the Dispatcher; the controller never
// touches the registries directly.
package rover

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rovers/pkg/daylight"
	"rovers/pkg/dispatcher"
	"rovers/pkg/follower"
	"rovers/pkg/planner"
	"rovers/pkg/power"
	"rovers/pkg/protocol"
	"rovers/pkg/telemetry"
)

// --- Interfaces for testability ---

// Dispatcher is the part of *dispatcher.Dispatcher a rover talks to.
type Dispatcher interface {
	RequestTask(ctx context.Context, id string) (protocol.Task, bool)
	ReportTaskComplete(ctx context.Context, id string, taskID int64, success bool, result *protocol.Readings)
	ReportDiscovery(ctx context.Context, id string, disc protocol.Discovery)
	ReportStatus(ctx context.Context, id string, r dispatcher.StatusReport)
	ObstaclesFor(id string) []protocol.Obstacle
}

// Body reads and moves a rover in the world.
type Body interface {
	Pose(id string) (pos protocol.Position, heading float64, ok bool)
	SetPose(id string, pos protocol.Position, heading float64)
}

// Detector reports markers visible from a position.
type Detector interface {
	Detect(id string, at orb.Point) []protocol.Discovery
}

// Phase is the controller's view of its own progress through a task.
type Phase string

// Phase constants.
const (
	PhaseIdle    Phase = "idle"
	PhaseMoving  Phase = "moving"
	PhaseWorking Phase = "working"
)

// Config holds controller tuning.
type Config struct {
	ReplanEvery    int // Moving ticks between replans (default 40).
	MaxNavFailures int // Failed arrivals before the task is reported failed (default 3).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReplanEvery == 0 {
		out.ReplanEvery = 40
	}
	if out.MaxNavFailures == 0 {
		out.MaxNavFailures = 3
	}
	return out
}

// Deps are the collaborators of a Rover. Dispatcher and Body are required.
type Deps struct {
	Dispatcher Dispatcher
	Body       Body
	Detector   Detector         // nil: no markers are ever seen
	Planner    *planner.Planner // nil: default planner, seed 1
	Follower   *follower.Follower
	Power      *power.Machine // nil: default machine, always daylight, no actuators
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Stats counts task outcomes for one rover.
type Stats struct {
	Completed   int
	Failed      int
	Replans     int
	NavFailures int
	Discoveries int
}

// Rover is one agent's controller. Tick is safe to call concurrently with the
// accessors, but ticks themselves must come from a single loop.
type Rover struct {
	id       string
	cfg      Config
	disp     Dispatcher
	body     Body
	detector Detector
	planner  *planner.Planner
	follower *follower.Follower
	power    *power.Machine
	tracer   trace.Tracer
	logger   *slog.Logger

	mu          sync.Mutex
	phase       Phase
	task        *protocol.Task
	sinceReplan int
	navFailures int
	found       *DiscoveryBuffer
	stats       Stats
}

type nopActuator struct{}

func (nopActuator) DeployPanel()  {}
func (nopActuator) RetractPanel() {}
func (nopActuator) DeployArm()    {}
func (nopActuator) RetractArm()   {}

// New creates an idle controller for agent id.
func New(id string, cfg Config, deps Deps) *Rover {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rover", "agent", id)

	r := &Rover{
		id:       id,
		cfg:      cfg.withDefaults(),
		disp:     deps.Dispatcher,
		body:     deps.Body,
		detector: deps.Detector,
		planner:  deps.Planner,
		follower: deps.Follower,
		power:    deps.Power,
		tracer:   deps.Tracer,
		logger:   logger,
		phase:    PhaseIdle,
		found:    NewDiscoveryBuffer(),
	}
	if r.planner == nil {
		r.planner = planner.New(planner.Config{}, 1)
	}
	if r.follower == nil {
		r.follower = follower.New(follower.Config{})
	}
	if r.power == nil {
		r.power = power.New(id, power.DefaultConfig(), nopActuator{}, daylight.Always(true), logger)
	}
	if r.tracer == nil {
		r.tracer = telemetry.Tracer(nil)
	}
	return r
}

// ID returns the agent id.
func (r *Rover) ID() string { return r.id }

// Power returns the rover's power machine.
func (r *Rover) Power() *power.Machine { return r.power }

// Phase returns the controller phase.
func (r *Rover) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Task returns the task being executed, if any.
func (r *Rover) Task() (protocol.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task == nil {
		return protocol.Task{}, false
	}
	return *r.task, true
}

// Stats returns a copy of the outcome counters.
func (r *Rover) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Tick advances the controller by one step and reports the rover's status to
// the dispatcher. A charging or empty rover only reports.
func (r *Rover) Tick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, heading, ok := r.body.Pose(r.id)
	if !ok {
		r.logger.Warn("no body in world")
		return
	}

	ps := r.power.Status()
	if ps.State == power.Charging || ps.Battery <= power.Empty {
		r.report(ctx, pos)
		return
	}

	switch r.phase {
	case PhaseIdle:
		r.tickIdle(ctx, pos)
	case PhaseMoving:
		pos = r.tickMoving(ctx, pos, heading)
	case PhaseWorking:
		r.tickWorking(ctx, pos)
	}
	r.report(ctx, pos)
}

func (r *Rover) tickIdle(ctx context.Context, pos protocol.Position) {
	r.ensure(power.Idle)
	if r.power.LowBattery() {
		if r.power.RequestCharge() {
			r.logger.Info("low battery, charging", "battery", r.power.Battery())
		}
		return
	}

	t, ok := r.disp.RequestTask(ctx, r.id)
	if !ok {
		return
	}
	r.task = &t
	r.navFailures = 0
	r.found.Drain()
	r.phase = PhaseMoving
	r.ensure(power.Moving)
	r.logger.Info("task started", "task", t.ID, "kind", t.Kind(), "worksite", t.Worksite, "target", t.Target)
	r.plan(ctx, pos.XY(), true)
}

func (r *Rover) tickMoving(ctx context.Context, pos protocol.Position, heading float64) protocol.Position {
	r.ensure(power.Moving)
	r.detect(pos.XY())

	r.sinceReplan++
	if r.sinceReplan >= r.cfg.ReplanEvery && !r.follower.Done() {
		r.plan(ctx, pos.XY(), false)
	}

	next, h, done := r.follower.Step(pos.XY(), heading)
	if !done {
		np := pos.WithXY(next)
		r.body.SetPose(r.id, np, h)
		return np
	}

	r.arrive(ctx, pos)
	return pos
}

// arrive checks that the finished path actually ended at the goal. A miss
// counts as a navigation failure and triggers a fresh plan.
func (r *Rover) arrive(ctx context.Context, pos protocol.Position) {
	reach := r.planner.Config().GoalRadius + r.follower.Config().Tolerance
	if planar.Distance(pos.XY(), r.task.Target) <= reach {
		r.phase = PhaseWorking
		r.ensure(power.Working)
		return
	}

	r.navFailures++
	r.stats.NavFailures++
	r.logger.Warn("goal not reached", "task", r.task.ID, "position", pos, "failures", r.navFailures)
	if r.navFailures >= r.cfg.MaxNavFailures {
		r.finish(ctx, false, nil)
		return
	}
	r.plan(ctx, pos.XY(), true)
}

func (r *Rover) tickWorking(ctx context.Context, pos protocol.Position) {
	r.ensure(power.Working)

	_, span := r.tracer.Start(ctx, "rover.work", trace.WithAttributes(
		attribute.String("agent", r.id),
		attribute.Int64("task", r.task.ID),
		attribute.String("kind", string(r.task.Kind())),
	))
	defer span.End()

	// Only the corrected field is meaningful; the dispatcher keeps the rest.
	var result *protocol.Readings
	switch d := r.task.Details.(type) {
	case protocol.RestoreMoisture:
		result = &protocol.Readings{Moisture: d.Target}
	case protocol.AdjustAcidity:
		result = &protocol.Readings{Acidity: d.Target}
	case protocol.VisitScan:
		result = &protocol.Readings{}
	case protocol.ExplorePoint:
		r.detect(pos.XY())
		found := r.found.Drain()
		for _, disc := range found {
			r.disp.ReportDiscovery(ctx, r.id, disc)
		}
		r.stats.Discoveries += len(found)
		span.SetAttributes(attribute.Int("discoveries", len(found)))
	}
	r.finish(ctx, true, result)
}

func (r *Rover) detect(at orb.Point) {
	if r.detector == nil || !r.task.IsExploration() {
		return
	}
	for _, d := range r.detector.Detect(r.id, at) {
		if r.found.Add(d) {
			r.logger.Debug("marker seen", "marker", d.MarkerID, "position", d.Position)
		}
	}
}

func (r *Rover) finish(ctx context.Context, success bool, result *protocol.Readings) {
	t := r.task
	r.disp.ReportTaskComplete(ctx, r.id, t.ID, success, result)
	if success {
		r.stats.Completed++
	} else {
		r.stats.Failed++
	}
	r.logger.Info("task finished", "task", t.ID, "kind", t.Kind(), "success", success)

	r.task = nil
	r.phase = PhaseIdle
	r.follower.SetPath(nil)
	r.found.Drain()
	r.ensure(power.Idle)
}

// plan computes a path from start to the task target. A replan that only
// yields the stay-put fallback keeps the current path.
func (r *Rover) plan(ctx context.Context, start orb.Point, initial bool) {
	_, span := r.tracer.Start(ctx, "rover.plan", trace.WithAttributes(
		attribute.String("agent", r.id),
		attribute.Int64("task", r.task.ID),
		attribute.Bool("initial", initial),
	))
	defer span.End()

	obstacles := r.obstaclesFrom(start)
	res := r.planner.PlanWithRetry(start, r.task.Target, obstacles)
	span.SetAttributes(
		attribute.Bool("feasible", res.Feasible),
		attribute.Int("attempts", res.Attempts),
		attribute.Int("waypoints", len(res.Path)),
		attribute.Int("obstacles", len(obstacles)),
	)
	if !res.Feasible {
		span.SetStatus(codes.Error, "no path")
	}

	r.sinceReplan = 0
	if !initial {
		r.stats.Replans++
		if planner.StayPut(res.Path) {
			return
		}
	}
	r.follower.SetPath(res.Path)
	if !res.Feasible {
		r.logger.Warn("no path to target, staying put", "task", r.task.ID, "attempts", res.Attempts)
	}
}

// obstaclesFrom drops the target worksite's own obstacle and any obstacle the
// rover is already inside.
func (r *Rover) obstaclesFrom(start orb.Point) []protocol.Circle {
	var out []protocol.Circle
	for _, o := range r.disp.ObstaclesFor(r.id) {
		if o.Kind == protocol.ObstacleWorksite && o.Owner == r.task.Worksite {
			continue
		}
		if o.Contains(start) {
			continue
		}
		out = append(out, o.Circle)
	}
	return out
}

// ensure nudges the power machine toward s. The machine may refuse.
func (r *Rover) ensure(s power.State) {
	if r.power.State() != s {
		r.power.SetActivity(s)
	}
}

func (r *Rover) report(ctx context.Context, pos protocol.Position) {
	status := protocol.AgentIdle
	queued := 0
	var held int64
	switch r.phase {
	case PhaseMoving:
		status = protocol.AgentMoving
	case PhaseWorking:
		status = protocol.AgentWorking
	}
	if r.task != nil {
		queued = 1
		held = r.task.ID
	}
	r.disp.ReportStatus(ctx, r.id, dispatcher.StatusReport{
		Position: pos,
		Status:   status,
		Battery:  r.power.Battery(),
		QueueLen: queued,
		Task:     held,
	})
}
