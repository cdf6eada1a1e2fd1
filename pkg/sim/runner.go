package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"rovers/pkg/config"
	"rovers/pkg/daylight"
	"rovers/pkg/dispatcher"
	"rovers/pkg/follower"
	"rovers/pkg/planner"
	"rovers/pkg/power"
	"rovers/pkg/protocol"
	"rovers/pkg/rover"
)

// Runner owns one simulation: the world, the dispatcher, the day cycle and a
// controller per rover. Step is the main control loop; Background is the
// slower timer that drains batteries, advances daylight, and lets the
// dispatcher degrade worksites and generate tasks. The two may run on
// different goroutines.
type Runner struct {
	cfg    config.Config
	world  *World
	disp   *dispatcher.Dispatcher
	cycle  *daylight.Cycle
	rovers []*rover.Rover
	logger *slog.Logger

	steps      atomic.Int64
	background atomic.Int64
}

// NewRunner builds the world from sc and registers its rovers and worksites.
// A nil sink discards events; a nil tracer uses the global provider.
func NewRunner(ctx context.Context, cfg config.Config, sc *Scenario, sink dispatcher.EventSink, tracer trace.Tracer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:    cfg,
		world:  NewWorld(cfg.Sim.DetectionRange),
		disp:   dispatcher.New(cfg.DispatcherOptions(), sink, logger),
		cycle:  daylight.NewCycle(cfg.Sim.DayLength(), cfg.Sim.DayThreshold),
		logger: logger.With("component", "sim"),
	}

	for i, a := range sc.Agents {
		r.world.AddRover(a.ID, a.Position)
		r.disp.RegisterAgent(ctx, a.ID, a.Position)
		r.rovers = append(r.rovers, rover.New(a.ID, rover.Config{
			ReplanEvery:    cfg.Sim.ReplanEvery,
			MaxNavFailures: cfg.Sim.MaxNavFailures,
		}, rover.Deps{
			Dispatcher: r.disp,
			Body:       r.world,
			Detector:   r.world,
			Planner:    planner.New(cfg.PlannerOptions(), cfg.Planner.Seed+uint64(i)),
			Follower:   follower.New(cfg.FollowerOptions()),
			Power:      power.New(a.ID, cfg.PowerOptions(), r.world.Actuator(a.ID), r.cycle, logger),
			Tracer:     tracer,
			Logger:     logger,
		}))
	}
	r.AddSites(ctx, sc)
	return r
}

// AddSites registers sc's worksites and hides its markers. Agents in sc are
// ignored; the fleet is fixed once the runner exists.
func (r *Runner) AddSites(ctx context.Context, sc *Scenario) int {
	added := 0
	for _, w := range sc.Worksites {
		if r.disp.RegisterWorksite(ctx, w) {
			added++
		}
	}
	for _, m := range sc.Markers {
		r.world.HideMarker(m)
	}
	r.logger.Info("scenario loaded", "scenario", sc.Name, "worksites", added, "markers", len(sc.Markers))
	return added
}

func (r *Runner) Dispatcher() *dispatcher.Dispatcher { return r.disp }
func (r *Runner) World() *World                      { return r.world }
func (r *Runner) Daylight() *daylight.Cycle          { return r.cycle }
func (r *Runner) Rovers() []*rover.Rover             { return r.rovers }

// Step runs one main-loop iteration: every rover ticks once, in
// scenario order.
func (r *Runner) Step(ctx context.Context) {
	for _, rv := range r.rovers {
		rv.Tick(ctx)
	}
	r.world.Advance(r.cfg.Sim.Tick())
	r.steps.Add(1)
}

// Background runs one slow-timer iteration.
func (r *Runner) Background(ctx context.Context) {
	r.cycle.Advance(r.cfg.Sim.BackgroundTick())
	for _, rv := range r.rovers {
		rv.Power().Tick()
	}
	r.disp.Tick(ctx)
	r.background.Add(1)
}

// RunSteps runs n main-loop steps as fast as possible, with a background
// iteration every BackgroundTick/Tick steps. It stops early when ctx is done.
func (r *Runner) RunSteps(ctx context.Context, n int) {
	every := max(int(r.cfg.Sim.BackgroundTick()/r.cfg.Sim.Tick()), 1)
	r.Background(ctx)
	for i := range n {
		if ctx.Err() != nil {
			return
		}
		r.Step(ctx)
		if (i+1)%every == 0 {
			r.Background(ctx)
		}
	}
}

// Run drives both loops on wall-clock tickers until ctx is done or, when
// maxSteps is positive, that many main-loop steps have run.
func (r *Runner) Run(ctx context.Context, maxSteps int) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(r.cfg.Sim.BackgroundTick())
		defer t.Stop()
		r.Background(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Background(ctx)
			}
		}
	}()

	t := time.NewTicker(r.cfg.Sim.Tick())
	defer t.Stop()
	for n := 0; (maxSteps <= 0 || n < maxSteps) && ctx.Err() == nil; n++ {
		select {
		case <-ctx.Done():
		case <-t.C:
			r.Step(ctx)
		}
	}
	cancel()
	wg.Wait()
}

// --- Summary ---

// AgentSummary is one rover's line in a Summary.
type AgentSummary struct {
	ID       string
	Position protocol.Position
	Status   protocol.AgentStatus
	Power    power.State
	Battery  float64
	Stats    rover.Stats
	Acts     Actuations
}

// Summary is the state of a simulation at one moment.
type Summary struct {
	Steps      int64
	Background int64
	Elapsed    time.Duration
	Day        bool
	Mode       dispatcher.Mode
	Agents     []AgentSummary
	Worksites  []protocol.Worksite
	Queued     int
	Assigned   int
}

// Summary snapshots the dispatcher and every rover.
func (r *Runner) Summary() Summary {
	snap := r.disp.Snapshot()
	byID := make(map[string]protocol.Agent, len(snap.Agents))
	for _, a := range snap.Agents {
		byID[a.ID] = a
	}

	s := Summary{
		Steps:      r.steps.Load(),
		Background: r.background.Load(),
		Elapsed:    r.world.Elapsed(),
		Day:        r.cycle.IsDay(),
		Mode:       snap.Mode,
		Worksites:  snap.Worksites,
		Queued:     len(snap.Queue),
		Assigned:   len(snap.Assigned),
	}
	for _, rv := range r.rovers {
		a := byID[rv.ID()]
		ps := rv.Power().Status()
		s.Agents = append(s.Agents, AgentSummary{
			ID:       rv.ID(),
			Position: a.Position,
			Status:   a.Status,
			Power:    ps.State,
			Battery:  ps.Battery,
			Stats:    rv.Stats(),
			Acts:     r.world.Actuations(rv.ID()),
		})
	}
	return s
}
