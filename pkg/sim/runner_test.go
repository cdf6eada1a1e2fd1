package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovers/pkg/config"
	"rovers/pkg/dispatcher"
	"rovers/pkg/power"
	"rovers/pkg/protocol"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Follower.Speed = 4
	cfg.Power.IdleDelta = -0.1
	cfg.Power.MovingDelta = -0.5
	cfg.Power.WorkingDelta = -0.5
	cfg.Sim.BackgroundTickMS = 500
	return cfg
}

func twoRovers() *Scenario {
	return &Scenario{
		Name: "test",
		Agents: []AgentSpec{
			{ID: "rover-0", Position: protocol.Position{X: -5, Y: -5}},
			{ID: "rover-1", Position: protocol.Position{X: 5, Y: -5}},
		},
	}
}

// checkInvariants fails the test if any worksite has more than one live task,
// any task is held by two agents, or any battery left [0,100].
func checkInvariants(t *testing.T, r *Runner) {
	t.Helper()
	snap := r.Dispatcher().Snapshot()

	live := map[string]int{}
	for _, q := range snap.Queue {
		live[q.Worksite]++
	}
	for _, a := range snap.Assigned {
		live[a.Worksite]++
	}
	for name, n := range live {
		require.LessOrEqual(t, n, 1, "worksite %s has %d live tasks", name, n)
	}

	held := map[int64]string{}
	for _, a := range snap.Agents {
		if a.CurrentTask == 0 {
			continue
		}
		other, dup := held[a.CurrentTask]
		require.False(t, dup, "task %d held by %s and %s", a.CurrentTask, other, a.ID)
		held[a.CurrentTask] = a.ID
	}

	for _, rv := range r.Rovers() {
		b := rv.Power().Battery()
		require.GreaterOrEqual(t, b, power.Empty)
		require.LessOrEqual(t, b, power.Full)
	}
}

func TestRunnerMaintainsWorksites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sc := twoRovers()
	sc.Worksites = []protocol.Worksite{
		{Name: "north", Position: protocol.Position{X: 0, Y: 4}, Readings: protocol.Readings{Moisture: 30, Acidity: 7}},
		{Name: "east", Position: protocol.Position{X: 4, Y: 0}, Readings: protocol.Readings{Moisture: 60, Acidity: 5}},
		{Name: "calm", Position: protocol.Position{X: -4, Y: 1}, Readings: protocol.Readings{Moisture: 65, Acidity: 7}},
	}
	r := NewRunner(ctx, testConfig(), sc, nil, nil, quiet)

	r.Background(ctx)
	for i := range 1500 {
		r.Step(ctx)
		if (i+1)%10 == 0 {
			r.Background(ctx)
		}
		checkInvariants(t, r)
	}

	s := r.Summary()
	completed := 0
	for _, a := range s.Agents {
		completed += a.Stats.Completed
		assert.InDelta(t, a.Stats.Completed, a.Acts.ArmDeploys, 1, "%s deploys its arm once per task worked", a.ID)
	}
	assert.GreaterOrEqual(t, completed, 2)

	east, err := r.Dispatcher().Worksite("east")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, east.Readings.Acidity, 6.0, "acidity corrected")

	assert.Equal(t, int64(1500), s.Steps)
	assert.Equal(t, int64(151), s.Background)
	assert.Equal(t, 1500*50*time.Millisecond, s.Elapsed)
}

func TestRunnerMappingDiscoversMarkers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig()
	cfg.Dispatcher.Mapping = true
	cfg.Dispatcher.ExploreGrid = 2

	sc := twoRovers()
	sc.Markers = []Marker{
		{ID: 5, Position: protocol.Position{X: 3.9, Y: 2.5}, Readings: protocol.Readings{Moisture: 50, Acidity: 7}},
		{ID: 6, Position: protocol.Position{X: -2.5, Y: -4.2}, Readings: protocol.Readings{Moisture: 50, Acidity: 7}},
	}
	r := NewRunner(ctx, cfg, sc, nil, nil, quiet)
	require.Equal(t, dispatcher.ModeMapping, r.Dispatcher().Mode())

	r.Background(ctx)
	for i := 0; i < 4000 && r.Dispatcher().Mode() == dispatcher.ModeMapping; i++ {
		r.Step(ctx)
		if (i+1)%10 == 0 {
			r.Background(ctx)
		}
		checkInvariants(t, r)
	}

	assert.Equal(t, dispatcher.ModeNormal, r.Dispatcher().Mode())
	for _, name := range []string{"site-5", "site-6"} {
		w, err := r.Dispatcher().Worksite(name)
		require.NoError(t, err, name)
		assert.InDelta(t, 50.0, w.Readings.Moisture, 1.0)
	}
}

func TestRunnerAddSitesSkipsKnownNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sc := twoRovers()
	sc.Worksites = []protocol.Worksite{{Name: "w", Readings: protocol.Readings{Moisture: 60, Acidity: 7}}}
	r := NewRunner(ctx, testConfig(), sc, nil, nil, quiet)

	added := r.AddSites(ctx, &Scenario{Worksites: []protocol.Worksite{
		{Name: "w", Readings: protocol.Readings{Moisture: 60, Acidity: 7}},
		{Name: "v", Readings: protocol.Readings{Moisture: 60, Acidity: 7}},
	}})
	assert.Equal(t, 1, added)
	assert.Len(t, r.Summary().Worksites, 2)
}

func TestRunStopsAfterMaxSteps(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Sim.TickMS = 1
	cfg.Sim.BackgroundTickMS = 5
	r := NewRunner(context.Background(), cfg, twoRovers(), nil, nil, quiet)

	r.Run(context.Background(), 30)

	s := r.Summary()
	assert.Equal(t, int64(30), s.Steps)
	assert.GreaterOrEqual(t, s.Background, int64(1))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Sim.TickMS = 1
	cfg.Sim.BackgroundTickMS = 5
	r := NewRunner(context.Background(), cfg, twoRovers(), nil, nil, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 0)
		close(done)
	}()

	waitFor(t, func() bool { return r.Summary().Steps >= 5 }, 2*time.Second)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStepsBackgroundCadence(t *testing.T) {
	t.Parallel()
	r := NewRunner(context.Background(), testConfig(), twoRovers(), nil, nil, quiet)
	r.RunSteps(context.Background(), 25)

	s := r.Summary()
	assert.Equal(t, int64(25), s.Steps)
	assert.Equal(t, int64(3), s.Background, "one up front, then every 10 steps")
	assert.InDelta(t, 1.5/60, r.Daylight().Phase(), 1e-9)
}
