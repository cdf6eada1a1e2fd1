// Package planner computes collision-free 2D paths with an RRT*-style sampling
// search. Obstacles are circles; a point collides with a circle when its
// distance to the center is at most the radius.
//
// The tree is rebuilt on every call. Nearest-node and neighbor queries go
// through an orb quadtree sized to the sampling region.
package planner

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"rovers/pkg/protocol"
)

// ErrInfeasible is returned by Plan when the iteration budget runs out before
// any node lands within the goal radius.
var ErrInfeasible = errors.New("planner: goal not reached within iteration budget")

// Config holds planner tuning. Zero fields take defaults unless Resolved is
// set.
type Config struct {
	Bounds        orb.Bound // Sampling region (default ±7 on both axes).
	StepSize      float64   // Fixed extension length per iteration (default 0.3).
	GoalRadius    float64   // Arrival radius around the goal (default 0.25).
	SearchRadius  float64   // Neighbor radius for parent choice and rewiring (default 1.0).
	GoalBias      float64   // Probability of sampling the goal directly (default 0.1).
	MaxIterations int       // Base iteration budget (default 2000).
	GrowthFactor  float64   // Budget multiplier between retries (default 1.2).
	MaxAttempts   int       // Planning attempts before falling back to stay-put (default 3).
	Resolved      bool      // Use every field as given; a zero GoalBias never samples the goal.
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Resolved {
		return out
	}
	if out.Bounds.IsZero() || out.Bounds.IsEmpty() {
		out.Bounds = orb.Bound{Min: orb.Point{-7, -7}, Max: orb.Point{7, 7}}
	}
	if out.StepSize <= 0 {
		out.StepSize = 0.3
	}
	if out.GoalRadius <= 0 {
		out.GoalRadius = 0.25
	}
	if out.SearchRadius <= 0 {
		out.SearchRadius = 1.0
	}
	if out.GoalBias <= 0 {
		out.GoalBias = 0.1
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = 2000
	}
	if out.GrowthFactor <= 1 {
		out.GrowthFactor = 1.2
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	return out
}

// node is a tree vertex. It implements orb.Pointer so it can live in the
// quadtree directly.
type node struct {
	pt     orb.Point
	cost   float64
	parent *node
}

func (n *node) Point() orb.Point { return n.pt }

// Planner is a seeded RRT* planner. A Planner is not safe for concurrent use;
// give each agent its own.
type Planner struct {
	cfg Config
	rng *rand.Rand
}

// New returns a planner whose random source is seeded with seed, so equal
// seeds and inputs yield equal paths.
func New(cfg Config, seed uint64) *Planner {
	return &Planner{
		cfg: cfg.withDefaults(),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Config returns the resolved configuration.
func (p *Planner) Config() Config { return p.cfg }

// Plan searches with the base iteration budget.
func (p *Planner) Plan(start, goal orb.Point, obstacles []protocol.Circle) ([]orb.Point, error) {
	return p.PlanIterations(start, goal, obstacles, p.cfg.MaxIterations)
}

// PlanIterations runs one RRT* search with the given budget. The returned path
// starts at start and ends at the first node found within the goal radius.
func (p *Planner) PlanIterations(start, goal orb.Point, obstacles []protocol.Circle, iterations int) ([]orb.Point, error) {
	if planar.Distance(start, goal) < p.cfg.GoalRadius {
		return []orb.Point{start}, nil
	}

	bound := p.cfg.Bounds.Extend(start).Extend(goal).Pad(p.cfg.StepSize)
	tree := quadtree.New(bound)
	root := &node{pt: start}
	if err := tree.Add(root); err != nil {
		return nil, err
	}

	var buf []orb.Pointer
	for range iterations {
		sample := p.sample(goal)

		nearest, ok := tree.Find(sample).(*node)
		if !ok {
			continue
		}
		candidate, ok := p.steer(nearest.pt, sample)
		if !ok || !bound.Contains(candidate) || collides(candidate, obstacles) {
			continue
		}

		buf = p.neighbors(tree, buf[:0], candidate)
		parent, cost := chooseParent(nearest, candidate, buf, obstacles)
		if parent == nil {
			continue
		}

		n := &node{pt: candidate, cost: cost, parent: parent}
		if err := tree.Add(n); err != nil {
			continue
		}
		rewire(n, buf, obstacles)

		if planar.Distance(candidate, goal) < p.cfg.GoalRadius {
			return backtrack(n), nil
		}
	}

	return nil, ErrInfeasible
}

func (p *Planner) sample(goal orb.Point) orb.Point {
	if p.rng.Float64() < p.cfg.GoalBias {
		return goal
	}
	b := p.cfg.Bounds
	return orb.Point{
		b.Min.X() + p.rng.Float64()*(b.Max.X()-b.Min.X()),
		b.Min.Y() + p.rng.Float64()*(b.Max.Y()-b.Min.Y()),
	}
}

// steer moves one fixed step from from toward to. The step may overshoot to.
func (p *Planner) steer(from, to orb.Point) (orb.Point, bool) {
	dx, dy := to.X()-from.X(), to.Y()-from.Y()
	d := math.Hypot(dx, dy)
	if d == 0 {
		return orb.Point{}, false
	}
	s := p.cfg.StepSize / d
	return orb.Point{from.X() + dx*s, from.Y() + dy*s}, true
}

func (p *Planner) neighbors(tree *quadtree.Quadtree, buf []orb.Pointer, at orb.Point) []orb.Pointer {
	r := p.cfg.SearchRadius
	box := orb.Bound{
		Min: orb.Point{at.X() - r, at.Y() - r},
		Max: orb.Point{at.X() + r, at.Y() + r},
	}
	found := tree.InBound(buf, box)
	out := found[:0]
	for _, f := range found {
		if planar.Distance(f.Point(), at) <= r {
			out = append(out, f)
		}
	}
	return out
}

// chooseParent picks the collision-free neighbor giving the cheapest cost to
// candidate. nearest is always considered.
func chooseParent(nearest *node, candidate orb.Point, neighbors []orb.Pointer, obstacles []protocol.Circle) (*node, float64) {
	var best *node
	bestCost := math.Inf(1)

	consider := func(n *node) {
		if collides(n.pt, obstacles) {
			return
		}
		if c := n.cost + planar.Distance(n.pt, candidate); c < bestCost {
			best, bestCost = n, c
		}
	}

	consider(nearest)
	for _, nb := range neighbors {
		if n := nb.(*node); n != nearest {
			consider(n)
		}
	}
	return best, bestCost
}

// rewire reparents neighbors that become cheaper through n. Descendant costs
// are not propagated; they stay upper bounds.
func rewire(n *node, neighbors []orb.Pointer, obstacles []protocol.Circle) {
	for _, nb := range neighbors {
		m := nb.(*node)
		if m == n.parent || m.parent == nil {
			continue
		}
		c := n.cost + planar.Distance(n.pt, m.pt)
		if c < m.cost && !collides(m.pt, obstacles) {
			m.parent = n
			m.cost = c
		}
	}
}

func backtrack(n *node) []orb.Point {
	var path []orb.Point
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur.pt)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func collides(pt orb.Point, obstacles []protocol.Circle) bool {
	for _, o := range obstacles {
		if planar.Distance(pt, o.Center) <= o.Radius {
			return true
		}
	}
	return false
}

// Collides reports whether pt lies inside any obstacle.
func Collides(pt orb.Point, obstacles []protocol.Circle) bool {
	return collides(pt, obstacles)
}
