package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"rovers/pkg/protocol"
)

// waitFor polls condition every tick until it returns true or timeout expires.
// This replaces time.Sleep in tests to provide proper synchronization.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// recordingSink captures events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) Record(_ context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(typ string) (protocol.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == typ {
			return s.events[i], true
		}
	}
	return protocol.Event{}, false
}

// fakeClock is a settable time source for nowFunc.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *recordingSink, *fakeClock) {
	t.Helper()
	sink := &recordingSink{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	d := New(cfg, sink, slog.New(slog.DiscardHandler))
	d.nowFunc = clock.Now
	return d, sink, clock
}

// site builds a healthy worksite at (x, y).
func site(name string, x, y float64) protocol.Worksite {
	return protocol.Worksite{
		Name:     name,
		Position: protocol.Position{X: x, Y: y},
		Readings: protocol.Readings{
			Moisture:    65,
			Acidity:     7.0,
			Biome:       protocol.BiomeFungi,
			Temperature: 21,
			Minerals:    "Iron",
		},
	}
}

// dry returns w with moisture below the default critical threshold.
func dry(w protocol.Worksite) protocol.Worksite {
	w.Readings.Moisture = 30
	return w
}

// removeWorksite drops a worksite without touching queued tasks, leaving
// them dangling.
func removeWorksite(d *Dispatcher, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.worksites, name)
	d.siteOrder = slices.DeleteFunc(d.siteOrder, func(n string) bool { return n == name })
	delete(d.obstacles, protocol.ObstacleKey{Kind: protocol.ObstacleWorksite, Owner: name})
}

// assertSingleOutstanding fails if any worksite has more than one queued or
// assigned task.
func assertSingleOutstanding(t *testing.T, d *Dispatcher) {
	t.Helper()
	snap := d.Snapshot()
	seen := make(map[string]int)
	for _, task := range snap.Queue {
		seen[task.Worksite]++
	}
	for _, task := range snap.Assigned {
		seen[task.Worksite]++
	}
	for name, n := range seen {
		if n > 1 {
			t.Fatalf("worksite %s has %d outstanding tasks", name, n)
		}
	}
}
