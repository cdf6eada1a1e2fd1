// Package sim is the in-memory world the fleet runs in. It stands in for the
// physics backend: it stores rover poses, counts actuator calls, hides
// markers for exploring rovers to find, and drives the control loops.
package sim

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"rovers/pkg/power"
	"rovers/pkg/protocol"
)

// Marker is a fiducial hidden at a worksite that has not been registered yet.
type Marker struct {
	ID       int
	Position protocol.Position
	Readings protocol.Readings
}

// Actuations counts side-effect calls for one rover.
type Actuations struct {
	PanelDeploys  int
	PanelRetracts int
	ArmDeploys    int
	ArmRetracts   int
}

type body struct {
	pos     protocol.Position
	heading float64
	acts    Actuations
}

// World holds rover bodies and hidden markers. It is safe for concurrent use.
type World struct {
	detectRange float64

	mu      sync.Mutex
	bodies  map[string]*body
	markers []Marker
	elapsed time.Duration
}

// NewWorld creates an empty world. Markers within detectRange of a rover are
// visible to it.
func NewWorld(detectRange float64) *World {
	return &World{
		detectRange: detectRange,
		bodies:      make(map[string]*body),
	}
}

// AddRover places a rover body. An existing body with the same id is moved.
func (w *World) AddRover(id string, pos protocol.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.bodies[id]; ok {
		b.pos = pos
		return
	}
	w.bodies[id] = &body{pos: pos}
}

// HideMarker adds a marker for exploring rovers to find.
func (w *World) HideMarker(m Marker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markers = append(w.markers, m)
}

// Rovers returns the ids of all bodies, sorted.
func (w *World) Rovers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.bodies))
	for id := range w.bodies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (w *World) Pose(id string) (protocol.Position, float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[id]
	if !ok {
		return protocol.Position{}, 0, false
	}
	return b.pos, b.heading, true
}

func (w *World) SetPose(id string, pos protocol.Position, heading float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.bodies[id]; ok {
		b.pos = pos
		b.heading = heading
	}
}

// Detect returns every marker within range of at. Each detection carries the
// readings of the ground the marker sits on.
func (w *World) Detect(_ string, at orb.Point) []protocol.Discovery {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []protocol.Discovery
	for _, m := range w.markers {
		d := planar.Distance(at, m.Position.XY())
		if d > w.detectRange {
			continue
		}
		out = append(out, protocol.Discovery{
			MarkerID:   m.ID,
			Position:   m.Position,
			Readings:   m.Readings,
			Confidence: confidence(d, w.detectRange),
		})
	}
	return out
}

// confidence falls off linearly from 1 at the rover to 0.5 at the edge of
// range.
func confidence(d, rng float64) float64 {
	if rng <= 0 {
		return 1
	}
	return 1 - 0.5*math.Min(d/rng, 1)
}

// Advance moves simulation time forward.
func (w *World) Advance(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elapsed += d
}

// Elapsed returns the simulated time since the world was created.
func (w *World) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed
}

// Actuations returns the side-effect counters for id.
func (w *World) Actuations(id string) Actuations {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.bodies[id]; ok {
		return b.acts
	}
	return Actuations{}
}

// Actuator returns the panel and arm controls for rover id.
func (w *World) Actuator(id string) power.Actuator {
	return actuator{w: w, id: id}
}

type actuator struct {
	w  *World
	id string
}

func (a actuator) bump(f func(*Actuations)) {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	if b, ok := a.w.bodies[a.id]; ok {
		f(&b.acts)
	}
}

func (a actuator) DeployPanel()  { a.bump(func(c *Actuations) { c.PanelDeploys++ }) }
func (a actuator) RetractPanel() { a.bump(func(c *Actuations) { c.PanelRetracts++ }) }
func (a actuator) DeployArm()    { a.bump(func(c *Actuations) { c.ArmDeploys++ }) }
func (a actuator) RetractArm()   { a.bump(func(c *Actuations) { c.ArmRetracts++ }) }
