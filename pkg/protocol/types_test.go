package protocol_test

import (
	"testing"

	"github.com/paulmach/orb"

	"rovers/pkg/protocol"
)

func TestTaskKind(t *testing.T) {
	tests := []struct {
		name    string
		details protocol.TaskDetails
		want    protocol.TaskKind
		explore bool
	}{
		{"restore", protocol.RestoreMoisture{Target: 65}, protocol.TaskRestoreMoisture, false},
		{"acidity", protocol.AdjustAcidity{Target: 7}, protocol.TaskAdjustAcidity, false},
		{"scan", protocol.VisitScan{}, protocol.TaskVisitScan, false},
		{"explore", protocol.ExplorePoint{Target: orb.Point{1, 2}}, protocol.TaskExplorePoint, true},
		{"none", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := protocol.Task{Details: tt.details}
			if got := task.Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
			if got := task.IsExploration(); got != tt.explore {
				t.Errorf("IsExploration() = %v, want %v", got, tt.explore)
			}
		})
	}
}

func TestTaskKindValid(t *testing.T) {
	for _, k := range []protocol.TaskKind{
		protocol.TaskRestoreMoisture, protocol.TaskAdjustAcidity,
		protocol.TaskVisitScan, protocol.TaskExplorePoint,
	} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if protocol.TaskKind("dig").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestAgentStatusCanTakeTask(t *testing.T) {
	tests := map[protocol.AgentStatus]bool{
		protocol.AgentIdle:      true,
		protocol.AgentReturning: true,
		protocol.AgentMoving:    false,
		protocol.AgentWorking:   false,
		protocol.AgentAssigned:  false,
	}
	for status, want := range tests {
		if got := status.CanTakeTask(); got != want {
			t.Errorf("%s.CanTakeTask() = %v, want %v", status, got, want)
		}
	}
}

func TestCircleContains(t *testing.T) {
	c := protocol.Circle{Center: orb.Point{1, 1}, Radius: 0.5}

	if !c.Contains(orb.Point{1, 1}) {
		t.Error("center should be inside")
	}
	if !c.Contains(orb.Point{1.5, 1}) {
		t.Error("boundary should be inside")
	}
	if c.Contains(orb.Point{1.51, 1}) {
		t.Error("point past the radius should be outside")
	}
}

func TestCirclesFlatten(t *testing.T) {
	obs := []protocol.Obstacle{
		{Kind: protocol.ObstacleWorksite, Owner: "w1", Circle: protocol.Circle{Center: orb.Point{0, 0}, Radius: 0.3}},
		{Kind: protocol.ObstacleAgent, Owner: "r1", Circle: protocol.Circle{Center: orb.Point{2, 2}, Radius: 0.4}},
	}
	circles := protocol.Circles(obs)
	if len(circles) != 2 {
		t.Fatalf("expected 2 circles, got %d", len(circles))
	}
	if circles[1].Radius != 0.4 || circles[1].Center != (orb.Point{2, 2}) {
		t.Errorf("unexpected circle: %+v", circles[1])
	}
}

func TestPositionXY(t *testing.T) {
	p := protocol.Position{X: 1, Y: 2, Z: 0.5}
	if p.XY() != (orb.Point{1, 2}) {
		t.Errorf("XY() = %v", p.XY())
	}
	moved := p.WithXY(orb.Point{3, 4})
	if moved != (protocol.Position{X: 3, Y: 4, Z: 0.5}) {
		t.Errorf("WithXY() = %v", moved)
	}
}

func TestDerivedNames(t *testing.T) {
	if got := protocol.WorksiteNameForMarker(12); got != "site-12" {
		t.Errorf("WorksiteNameForMarker = %q", got)
	}
	if got := protocol.ExploreTargetName(3); got != "explore-3" {
		t.Errorf("ExploreTargetName = %q", got)
	}
}
