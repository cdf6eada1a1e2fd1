// Package config loads the fleet configuration from TOML. Keys missing from
// the file keep their Default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/pelletier/go-toml/v2"

	"rovers/pkg/dispatcher"
	"rovers/pkg/follower"
	"rovers/pkg/planner"
	"rovers/pkg/power"
)

// Config is the whole fleet configuration, one table per component.
type Config struct {
	Map        MapConfig        `toml:"map"`
	Planner    PlannerConfig    `toml:"planner"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Power      PowerConfig      `toml:"power"`
	Follower   FollowerConfig   `toml:"follower"`
	Sim        SimConfig        `toml:"sim"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// MapConfig bounds the arena.
type MapConfig struct {
	MinX float64 `toml:"min_x"`
	MinY float64 `toml:"min_y"`
	MaxX float64 `toml:"max_x"`
	MaxY float64 `toml:"max_y"`
}

// PlannerConfig tunes the path planner.
type PlannerConfig struct {
	StepSize      float64 `toml:"step_size"`
	GoalRadius    float64 `toml:"goal_radius"`
	SearchRadius  float64 `toml:"search_radius"`
	GoalBias      float64 `toml:"goal_bias"`
	MaxIterations int     `toml:"max_iterations"`
	GrowthFactor  float64 `toml:"growth_factor"`
	MaxAttempts   int     `toml:"max_attempts"`
	Seed          uint64  `toml:"seed"`
}

// DispatcherConfig tunes worksite degradation, task generation and leases.
type DispatcherConfig struct {
	CriticalMoisture   float64 `toml:"critical_moisture"`
	MoistureTargetMin  float64 `toml:"moisture_target_min"`
	MoistureTargetMax  float64 `toml:"moisture_target_max"`
	MoistureDecay      float64 `toml:"moisture_decay"`
	AcidityMin         float64 `toml:"acidity_min"`
	AcidityMax         float64 `toml:"acidity_max"`
	AcidityTarget      float64 `toml:"acidity_target"`
	AcidityDrift       float64 `toml:"acidity_drift"`
	StaleAfterSecs     int     `toml:"stale_after_secs"`
	WorksiteRadius     float64 `toml:"worksite_radius"`
	AgentRadius        float64 `toml:"agent_radius"`
	LeaseTimeoutSecs   int     `toml:"lease_timeout_secs"`
	Mapping            bool    `toml:"mapping"`
	ExploreGrid        int     `toml:"explore_grid"`
	ExploreMaxAttempts int     `toml:"explore_max_attempts"`
	Seed               uint64  `toml:"seed"`
}

// PowerConfig sets per-state battery deltas.
type PowerConfig struct {
	IdleDelta     float64 `toml:"idle_delta"`
	MovingDelta   float64 `toml:"moving_delta"`
	WorkingDelta  float64 `toml:"working_delta"`
	ChargingDelta float64 `toml:"charging_delta"`
	Reserve       float64 `toml:"reserve"`
	Initial       float64 `toml:"initial"`
}

// FollowerConfig tunes the path follower.
type FollowerConfig struct {
	Speed     float64 `toml:"speed"`
	Smoothing float64 `toml:"smoothing"`
	Tolerance float64 `toml:"tolerance"`
	Timestep  float64 `toml:"timestep"`
}

// SimConfig drives the simulation loops and rover behavior.
type SimConfig struct {
	TickMS           int     `toml:"tick_ms"`
	BackgroundTickMS int     `toml:"background_tick_ms"`
	DayLengthSecs    float64 `toml:"day_length_secs"`
	DayThreshold     float64 `toml:"day_threshold"`
	DetectionRange   float64 `toml:"detection_range"`
	ReplanEvery      int     `toml:"replan_every"`
	MaxNavFailures   int     `toml:"max_nav_failures"`
	Agents           int     `toml:"agents"`
}

// TelemetryConfig selects the trace exporter. An empty Endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Insecure    bool   `toml:"insecure"`
}

// Default returns the built-in configuration.
func Default() Config {
	pw := power.DefaultConfig()
	return Config{
		Map: MapConfig{MinX: -7, MinY: -7, MaxX: 7, MaxY: 7},
		Planner: PlannerConfig{
			StepSize: 0.3, GoalRadius: 0.25, SearchRadius: 1.0, GoalBias: 0.1,
			MaxIterations: 2000, GrowthFactor: 1.2, MaxAttempts: 3, Seed: 1,
		},
		Dispatcher: DispatcherConfig{
			CriticalMoisture: 40, MoistureTargetMin: 60, MoistureTargetMax: 75, MoistureDecay: 0.5,
			AcidityMin: 6.0, AcidityMax: 8.0, AcidityTarget: 7.0, AcidityDrift: 0.05,
			StaleAfterSecs: 120, WorksiteRadius: 0.4, AgentRadius: 0.35,
			ExploreGrid: 3, ExploreMaxAttempts: 2, Seed: 1,
		},
		Power: PowerConfig{
			IdleDelta: pw.IdleDelta, MovingDelta: pw.MovingDelta, WorkingDelta: pw.WorkingDelta,
			ChargingDelta: pw.ChargingDelta, Reserve: pw.Reserve, Initial: pw.Initial,
		},
		Follower: FollowerConfig{Speed: 0.1, Smoothing: 0.1, Tolerance: 0.05, Timestep: 0.05},
		Sim: SimConfig{
			TickMS: 50, BackgroundTickMS: 1000, DayLengthSecs: 60, DayThreshold: 0.4,
			DetectionRange: 1.5, ReplanEvery: 40, MaxNavFailures: 3, Agents: 2,
		},
		Telemetry: TelemetryConfig{ServiceName: "rovers"},
	}
}

// ErrInvalid wraps every decode and validation failure.
var ErrInvalid = errors.New("invalid config")

// LoadResult reports what Load found. Config is Default when the file is
// missing or invalid.
type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// Load reads path over Default. A missing file is not an error.
func Load(path string) LoadResult {
	res := LoadResult{Config: Default(), Path: path}
	if path == "" {
		return res
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res
		}
		res.ParseError = err
		return res
	}

	res.Found = true
	parsed, err := Parse(b)
	if err != nil {
		res.ParseError = err
		return res
	}
	res.Config = parsed
	return res
}

// Parse decodes TOML over Default and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Validate checks ranges that the components cannot repair with defaults.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Map.MinX < c.Map.MaxX && c.Map.MinY < c.Map.MaxY, "map bounds are empty")
	check(c.Planner.StepSize > 0, "planner.step_size must be positive")
	check(c.Planner.GoalRadius > 0, "planner.goal_radius must be positive")
	check(c.Planner.SearchRadius >= c.Planner.StepSize, "planner.search_radius must be at least step_size")
	check(c.Planner.GoalBias >= 0 && c.Planner.GoalBias < 1, "planner.goal_bias must be in [0,1)")
	check(c.Planner.MaxIterations > 0, "planner.max_iterations must be positive")
	check(c.Planner.GrowthFactor > 1, "planner.growth_factor must exceed 1")
	check(c.Planner.MaxAttempts > 0, "planner.max_attempts must be positive")
	check(c.Dispatcher.AcidityMin < c.Dispatcher.AcidityMax, "dispatcher acidity band is empty")
	check(c.Dispatcher.MoistureTargetMin <= c.Dispatcher.MoistureTargetMax, "dispatcher moisture target range is inverted")
	check(c.Dispatcher.StaleAfterSecs >= 0 && c.Dispatcher.LeaseTimeoutSecs >= 0, "dispatcher durations must not be negative")
	check(c.Dispatcher.ExploreGrid >= 0, "dispatcher.explore_grid must not be negative")
	check(c.Power.Initial >= power.Empty && c.Power.Initial <= power.Full, "power.initial must be in [0,100]")
	check(c.Power.ChargingDelta > 0, "power.charging_delta must be positive")
	check(c.Follower.Speed > 0 && c.Follower.Timestep > 0, "follower speed and timestep must be positive")
	check(c.Follower.Smoothing > 0 && c.Follower.Smoothing <= 1, "follower.smoothing must be in (0,1]")
	check(c.Sim.TickMS > 0 && c.Sim.BackgroundTickMS > 0, "sim tick periods must be positive")
	check(c.Sim.Agents >= 0, "sim.agents must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// --- Component options ---

// Bounds returns the arena as an orb bound.
func (c Config) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{c.Map.MinX, c.Map.MinY}, Max: orb.Point{c.Map.MaxX, c.Map.MaxY}}
}

// PlannerOptions returns a resolved planner config.
func (c Config) PlannerOptions() planner.Config {
	p := c.Planner
	return planner.Config{
		Bounds:        c.Bounds(),
		StepSize:      p.StepSize,
		GoalRadius:    p.GoalRadius,
		SearchRadius:  p.SearchRadius,
		GoalBias:      p.GoalBias,
		MaxIterations: p.MaxIterations,
		GrowthFactor:  p.GrowthFactor,
		MaxAttempts:   p.MaxAttempts,
		Resolved:      true,
	}
}

// DispatcherOptions returns a resolved dispatcher config. Zero values from the
// file are kept as zero.
func (c Config) DispatcherOptions() dispatcher.Config {
	d := c.Dispatcher
	return dispatcher.Config{
		CriticalMoisture:   d.CriticalMoisture,
		MoistureTargetMin:  d.MoistureTargetMin,
		MoistureTargetMax:  d.MoistureTargetMax,
		MoistureDecay:      d.MoistureDecay,
		AcidityMin:         d.AcidityMin,
		AcidityMax:         d.AcidityMax,
		AcidityTarget:      d.AcidityTarget,
		AcidityDrift:       d.AcidityDrift,
		StaleAfter:         time.Duration(d.StaleAfterSecs) * time.Second,
		WorksiteRadius:     d.WorksiteRadius,
		AgentRadius:        d.AgentRadius,
		LeaseTimeout:       time.Duration(d.LeaseTimeoutSecs) * time.Second,
		Mapping:            d.Mapping,
		ExploreBounds:      c.Bounds().Pad(-0.5),
		ExploreGrid:        d.ExploreGrid,
		ExploreMaxAttempts: d.ExploreMaxAttempts,
		Seed:               d.Seed,
		Resolved:           true,
	}
}

// PowerOptions returns the power machine config.
func (c Config) PowerOptions() power.Config {
	p := c.Power
	return power.Config{
		IdleDelta:     p.IdleDelta,
		MovingDelta:   p.MovingDelta,
		WorkingDelta:  p.WorkingDelta,
		ChargingDelta: p.ChargingDelta,
		Reserve:       p.Reserve,
		Initial:       p.Initial,
	}
}

// FollowerOptions returns the follower config.
func (c Config) FollowerOptions() follower.Config {
	f := c.Follower
	return follower.Config{Speed: f.Speed, Smoothing: f.Smoothing, Tolerance: f.Tolerance, Timestep: f.Timestep}
}

// Tick is the rover control period.
func (s SimConfig) Tick() time.Duration {
	return time.Duration(s.TickMS) * time.Millisecond
}

// BackgroundTick is the dispatcher tick period.
func (s SimConfig) BackgroundTick() time.Duration {
	return time.Duration(s.BackgroundTickMS) * time.Millisecond
}

// DayLength is one full day-night cycle.
func (s SimConfig) DayLength() time.Duration {
	return time.Duration(s.DayLengthSecs * float64(time.Second))
}
