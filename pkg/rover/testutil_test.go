package rover //nolint:testpackage // white-box helpers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/require"

	"rovers/pkg/daylight"
	"rovers/pkg/dispatcher"
	"rovers/pkg/follower"
	"rovers/pkg/planner"
	"rovers/pkg/power"
	"rovers/pkg/protocol"
)

var discard = slog.New(slog.DiscardHandler)

type fakeBody struct {
	mu      sync.Mutex
	pos     map[string]protocol.Position
	heading map[string]float64
	moves   int
}

func newFakeBody() *fakeBody {
	return &fakeBody{pos: map[string]protocol.Position{}, heading: map[string]float64{}}
}

func (b *fakeBody) place(id string, x, y float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos[id] = protocol.Position{X: x, Y: y}
}

func (b *fakeBody) Pose(id string) (protocol.Position, float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pos[id]
	return p, b.heading[id], ok
}

func (b *fakeBody) SetPose(id string, p protocol.Position, h float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos[id] = p
	b.heading[id] = h
	b.moves++
}

// markerField reports every marker within rng of the asking rover.
type markerField struct {
	markers map[int]orb.Point
	rng     float64
	calls   int
}

func (m *markerField) Detect(_ string, at orb.Point) []protocol.Discovery {
	m.calls++
	var out []protocol.Discovery
	for id, p := range m.markers {
		if planar.Distance(at, p) <= m.rng {
			out = append(out, protocol.Discovery{
				MarkerID:   id,
				Position:   protocol.Position{X: p.X(), Y: p.Y()},
				Readings:   protocol.Readings{Moisture: 55, Acidity: 7, Biome: protocol.BiomeFungi},
				Confidence: 1,
			})
		}
	}
	return out
}

type countingActuator struct {
	arm, panel int
}

func (a *countingActuator) DeployPanel()  { a.panel++ }
func (a *countingActuator) RetractPanel() {}
func (a *countingActuator) DeployArm()    { a.arm++ }
func (a *countingActuator) RetractArm()   {}

type fixture struct {
	disp  *dispatcher.Dispatcher
	body  *fakeBody
	rover *Rover
}

func fastFollower() *follower.Follower {
	return follower.New(follower.Config{Speed: 4, Timestep: 0.05})
}

func newFixture(t *testing.T, dcfg dispatcher.Config, deps Deps, cfg Config, x, y float64) *fixture {
	t.Helper()
	d := dispatcher.New(dcfg, nil, discard)
	body := newFakeBody()
	body.place("r1", x, y)
	d.RegisterAgent(context.Background(), "r1", protocol.Position{X: x, Y: y})

	deps.Dispatcher = d
	deps.Body = body
	deps.Logger = discard
	if deps.Follower == nil {
		deps.Follower = fastFollower()
	}
	if deps.Planner == nil {
		deps.Planner = planner.New(planner.Config{}, 7)
	}
	return &fixture{disp: d, body: body, rover: New("r1", cfg, deps)}
}

// runUntil ticks the rover until cond holds or limit ticks have passed.
func (f *fixture) runUntil(t *testing.T, limit int, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	for range limit {
		if cond() {
			return
		}
		f.rover.Tick(ctx)
	}
	require.True(t, cond(), "condition not met after %d ticks", limit)
}

func (f *fixture) addSite(t *testing.T, name string, x, y, moisture float64) {
	t.Helper()
	require.True(t, f.disp.RegisterWorksite(context.Background(), protocol.Worksite{
		Name:     name,
		Position: protocol.Position{X: x, Y: y},
		Readings: protocol.Readings{Moisture: moisture, Acidity: 7},
	}))
}

// wall surrounds (x, y) with n worksites at distance r.
func (f *fixture) wall(t *testing.T, x, y, r float64, n int) {
	t.Helper()
	for i := range n {
		a := 2 * math.Pi * float64(i) / float64(n)
		f.addSite(t, fmt.Sprintf("wall-%d", i), x+r*math.Cos(a), y+r*math.Sin(a), 50)
	}
}

func machine(initial float64, day bool, act power.Actuator) *power.Machine {
	cfg := power.DefaultConfig()
	cfg.Initial = initial
	if act == nil {
		act = nopActuator{}
	}
	return power.New("r1", cfg, act, daylight.Always(day), discard)
}
