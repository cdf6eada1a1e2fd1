// Package follower drives an agent along a planned polyline one fixed
// timestep at a time.
package follower

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Config holds follower tuning. Zero fields take defaults.
type Config struct {
	Speed     float64 // Units per second (default 0.1).
	Smoothing float64 // Heading blend weight per step, in (0,1] (default 0.1).
	Tolerance float64 // Waypoint arrival tolerance (default 0.05).
	Timestep  float64 // Seconds per step (default 0.05).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Speed <= 0 {
		out.Speed = 0.1
	}
	if out.Smoothing <= 0 || out.Smoothing > 1 {
		out.Smoothing = 0.1
	}
	if out.Tolerance <= 0 {
		out.Tolerance = 0.05
	}
	if out.Timestep <= 0 {
		out.Timestep = 0.05
	}
	return out
}

// Follower tracks progress along one path. The zero-path follower is done.
type Follower struct {
	cfg  Config
	path []orb.Point
	idx  int
}

// New returns a follower with no path.
func New(cfg Config) *Follower {
	return &Follower{cfg: cfg.withDefaults()}
}

// Config returns the resolved configuration.
func (f *Follower) Config() Config { return f.cfg }

// SetPath replaces the current path and resets progress to its first waypoint.
func (f *Follower) SetPath(path []orb.Point) {
	f.path = append(f.path[:0:0], path...)
	f.idx = 0
}

// Done reports whether every waypoint has been reached.
func (f *Follower) Done() bool {
	return f.idx >= len(f.path)
}

// Index returns the index of the current target waypoint.
func (f *Follower) Index() int { return f.idx }

// Path returns the path being followed.
func (f *Follower) Path() []orb.Point { return f.path }

// Step advances one timestep from pos with heading (radians). Waypoints within
// tolerance are consumed in order before moving, so none are skipped. The
// heading turns toward the target by the smoothing weight along the shorter
// arc, while the position moves along the exact target direction, never past
// the waypoint. Once done, Step returns its inputs unchanged.
func (f *Follower) Step(pos orb.Point, heading float64) (orb.Point, float64, bool) {
	for f.idx < len(f.path) && planar.Distance(pos, f.path[f.idx]) < f.cfg.Tolerance {
		f.idx++
	}
	if f.Done() {
		return pos, heading, true
	}

	target := f.path[f.idx]
	dx, dy := target.X()-pos.X(), target.Y()-pos.Y()
	dist := math.Hypot(dx, dy)
	want := math.Atan2(dy, dx)

	nextHeading := WrapToPi(heading + f.cfg.Smoothing*WrapToPi(want-heading))

	move := math.Min(f.cfg.Speed*f.cfg.Timestep, dist)
	next := orb.Point{pos.X() + move*math.Cos(want), pos.Y() + move*math.Sin(want)}

	return next, nextHeading, false
}

// WrapToPi normalizes an angle to [-π, π).
func WrapToPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
