package planner

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"rovers/pkg/protocol"
)

// Result describes the outcome of PlanWithRetry.
type Result struct {
	Path       []orb.Point
	Feasible   bool // false when Path is the stay-put fallback
	Attempts   int
	Iterations int // budget of the last attempt
}

// PlanWithRetry calls PlanIterations, growing the budget by GrowthFactor after
// each infeasible attempt, for at most MaxAttempts attempts. When every attempt
// fails it returns the single-point path [start].
func (p *Planner) PlanWithRetry(start, goal orb.Point, obstacles []protocol.Circle) Result {
	iters := p.cfg.MaxIterations
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		path, err := p.PlanIterations(start, goal, obstacles, iters)
		if err == nil {
			return Result{Path: path, Feasible: true, Attempts: attempt, Iterations: iters}
		}
		if attempt < p.cfg.MaxAttempts {
			iters = int(math.Ceil(float64(iters) * p.cfg.GrowthFactor))
		}
	}
	return Result{
		Path:       []orb.Point{start},
		Attempts:   p.cfg.MaxAttempts,
		Iterations: iters,
	}
}

// StayPut reports whether path is the trivial fallback path.
func StayPut(path []orb.Point) bool {
	return len(path) <= 1
}

// Length returns the polyline length of path.
func Length(path []orb.Point) float64 {
	return planar.Length(orb.LineString(path))
}
