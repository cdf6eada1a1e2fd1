// Package power implements the per-agent activity and battery state machine.
//
// External activity requests are advisory: the machine refuses them while
// Charging and overrides them when the battery empties. Callers read State
// after a request instead of assuming it took effect.
package power

import (
	"log/slog"
	"sync"
)

// State is an agent activity state.
type State string

// Activity states.
const (
	Idle     State = "idle"
	Moving   State = "moving"
	Working  State = "working"
	Charging State = "charging"
)

// active reports whether s is a state worth resuming after a charge.
func (s State) active() bool {
	return s == Moving || s == Working
}

// Battery bounds.
const (
	Empty = 0.0
	Full  = 100.0
)

// Actuator triggers the physical side effects of state changes.
type Actuator interface {
	DeployPanel()
	RetractPanel()
	DeployArm()
	RetractArm()
}

// Daylight is the external charging-condition signal.
type Daylight interface {
	IsDay() bool
}

// Config holds per-tick battery deltas and the low-battery reserve.
type Config struct {
	IdleDelta     float64
	MovingDelta   float64
	WorkingDelta  float64
	ChargingDelta float64 // applied only when daylight and the panel is deployed
	Reserve       float64 // below this an idle agent should seek charge
	Initial       float64 // starting charge
}

// DefaultConfig returns the stock battery model.
func DefaultConfig() Config {
	return Config{
		IdleDelta:     -1,
		MovingDelta:   -10,
		WorkingDelta:  -5,
		ChargingDelta: 10,
		Reserve:       20,
		Initial:       Full,
	}
}

func (c Config) delta(s State) float64 {
	switch s {
	case Moving:
		return c.MovingDelta
	case Working:
		return c.WorkingDelta
	case Charging:
		return c.ChargingDelta
	default:
		return c.IdleDelta
	}
}

// Status is a point-in-time copy of a machine's state.
type Status struct {
	State    State
	Previous State // state to resume after charging; Idle when none
	Battery  float64
	Panel    bool
	Arm      bool
}

// Machine is one agent's power/activity state machine. It is safe for
// concurrent use; the background tick and the agent controller share it.
type Machine struct {
	agentID string
	cfg     Config
	act     Actuator
	day     Daylight
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	previous State
	battery  float64
	panel    bool
	arm      bool
}

// New returns a machine in Idle with cfg.Initial charge.
func New(agentID string, cfg Config, act Actuator, day Daylight, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		agentID:  agentID,
		cfg:      cfg,
		act:      act,
		day:      day,
		logger:   logger.With("agent", agentID),
		state:    Idle,
		previous: Idle,
		battery:  clamp(cfg.Initial),
	}
}

// State returns the current activity state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Battery returns the current charge in [0,100].
func (m *Machine) Battery() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battery
}

// Status returns a copy of the machine's state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:    m.state,
		Previous: m.previous,
		Battery:  m.battery,
		Panel:    m.panel,
		Arm:      m.arm,
	}
}

// LowBattery reports whether the charge is below the configured reserve.
func (m *Machine) LowBattery() bool {
	return m.Battery() < m.cfg.Reserve
}

// SetActivity requests a change to Idle, Moving or Working. It returns false
// when the request is refused: while Charging, or for Charging itself (use
// RequestCharge).
func (m *Machine) SetActivity(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Charging || s == Charging {
		m.logger.Debug("activity request refused", "state", m.state, "requested", s)
		return false
	}
	m.previous = Idle
	m.transition(s)
	return true
}

// RequestCharge enters Charging if it is daylight. The current active state
// is remembered and resumed when charging ends.
func (m *Machine) RequestCharge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Charging {
		return true
	}
	if !m.day.IsDay() {
		return false
	}
	if m.state.active() {
		m.previous = m.state
	}
	m.transition(Charging)
	return true
}

// Tick applies one battery update and any forced transitions.
func (m *Machine) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.day.IsDay()

	delta := m.cfg.delta(m.state)
	if m.state == Charging && !(day && m.panel) {
		delta = 0
	}
	m.battery = clamp(m.battery + delta)

	if m.battery <= Empty && m.state.active() {
		m.previous = m.state
		m.logger.Info("battery empty, forcing idle", "was", m.state)
		m.transition(Idle)
	}

	if m.battery <= Empty && m.state != Charging && day {
		m.transition(Charging)
	}

	if m.state == Charging && (m.battery >= Full || !day || !m.panel) {
		resume := m.previous
		m.previous = Idle
		m.logger.Info("charging ended", "battery", m.battery, "daylight", day, "resume", resume)
		m.transition(resume)
	}
}

// transition moves to s and fires panel and arm side effects. Caller holds mu.
func (m *Machine) transition(s State) {
	from := m.state
	if from == s {
		return
	}

	if from == Working {
		m.act.RetractArm()
		m.arm = false
	}
	if from == Charging {
		m.act.RetractPanel()
		m.panel = false
	}

	m.state = s

	if s == Charging {
		m.act.DeployPanel()
		m.panel = true
	}
	if s == Working {
		m.act.DeployArm()
		m.arm = true
	}

	m.logger.Debug("activity transition", "from", from, "to", s, "battery", m.battery)
}

func clamp(v float64) float64 {
	return min(max(v, Empty), Full)
}
