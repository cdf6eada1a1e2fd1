package protocol

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Position is a 3D world coordinate. Planning and obstacle bookkeeping only use
// the ground-plane projection returned by XY.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// XY returns the ground-plane projection of p.
func (p Position) XY() orb.Point {
	return orb.Point{p.X, p.Y}
}

// WithXY returns p moved to pt on the ground plane, keeping its height.
func (p Position) WithXY(pt orb.Point) Position {
	return Position{X: pt.X(), Y: pt.Y(), Z: p.Z}
}

func (p Position) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// Biome and mineral tags used by the stock scenarios.
const (
	BiomeBacteria = "Bacteria"
	BiomeFungi    = "Fungi"
	BiomeAlgae    = "Algae"
	BiomeArchaea  = "Archaea"
)

// Readings is the fixed-schema environmental record of a worksite.
type Readings struct {
	Moisture    float64 `json:"moisture" yaml:"moisture"`
	Acidity     float64 `json:"acidity" yaml:"acidity"`
	Biome       string  `json:"biome" yaml:"biome"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Minerals    string  `json:"minerals" yaml:"minerals"`
}

// Worksite is a fixed-location entity with mutable readings. It is owned by the
// dispatcher; everything else refers to it by Name.
type Worksite struct {
	Name         string    `json:"name"`
	Position     Position  `json:"position"`
	Readings     Readings  `json:"readings"`
	LastServiced time.Time `json:"last_serviced"`
}

// --- Tasks ---

// TaskKind names what a task asks an agent to do.
type TaskKind string

// Task kind constants.
const (
	TaskRestoreMoisture TaskKind = "restore_moisture"
	TaskAdjustAcidity   TaskKind = "adjust_acidity"
	TaskVisitScan       TaskKind = "visit_scan"
	TaskExplorePoint    TaskKind = "explore_point"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskRestoreMoisture, TaskAdjustAcidity, TaskVisitScan, TaskExplorePoint:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task status constants.
const (
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskDetails is the closed set of kind-specific task payloads. Only the types in
// this package implement it.
type TaskDetails interface {
	Kind() TaskKind
	isTaskDetails()
}

// RestoreMoisture asks the agent to water a worksite up to Target.
type RestoreMoisture struct {
	Target float64 `json:"target"`
}

// AdjustAcidity asks the agent to bring a worksite's acidity to Target.
type AdjustAcidity struct {
	Target float64 `json:"target"`
}

// VisitScan asks the agent to visit a worksite and refresh its readings.
type VisitScan struct{}

// ExplorePoint asks the agent to drive to Target and report any markers seen.
type ExplorePoint struct {
	Target orb.Point `json:"target"`
}

func (RestoreMoisture) Kind() TaskKind { return TaskRestoreMoisture }
func (AdjustAcidity) Kind() TaskKind   { return TaskAdjustAcidity }
func (VisitScan) Kind() TaskKind       { return TaskVisitScan }
func (ExplorePoint) Kind() TaskKind    { return TaskExplorePoint }

func (RestoreMoisture) isTaskDetails() {}
func (AdjustAcidity) isTaskDetails()   {}
func (VisitScan) isTaskDetails()       {}
func (ExplorePoint) isTaskDetails()    {}

// Task is a unit of work. Target and Site are resolved by the dispatcher at
// assignment time; queued tasks carry only the worksite identity.
type Task struct {
	ID        int64       `json:"id"`
	Worksite  string      `json:"worksite"`
	Details   TaskDetails `json:"-"`
	Priority  int         `json:"priority"`
	Status    TaskStatus  `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Attempts  int         `json:"attempts,omitempty"`

	Target orb.Point `json:"target"`
	Site   Readings  `json:"site"`
}

// Kind returns the kind of the task's details, or "" when none are set.
func (t Task) Kind() TaskKind {
	if t.Details == nil {
		return ""
	}
	return t.Details.Kind()
}

// IsExploration reports whether the task targets a synthetic exploration point.
func (t Task) IsExploration() bool {
	return t.Kind() == TaskExplorePoint
}

// --- Agents ---

// AgentStatus is the dispatcher-side view of what an agent is doing.
type AgentStatus string

// Agent status constants.
const (
	AgentIdle      AgentStatus = "idle"
	AgentMoving    AgentStatus = "moving"
	AgentWorking   AgentStatus = "working"
	AgentAssigned  AgentStatus = "assigned"
	AgentReturning AgentStatus = "returning"
)

// CanTakeTask reports whether an agent in status s may be handed a new task.
func (s AgentStatus) CanTakeTask() bool {
	return s == AgentIdle || s == AgentReturning
}

// Agent is the dispatcher's record of a registered agent.
type Agent struct {
	ID          string      `json:"id"`
	Position    Position    `json:"position"`
	Status      AgentStatus `json:"status"`
	CurrentTask int64       `json:"current_task,omitempty"` // 0 when none
	Target      string      `json:"target,omitempty"`
	Battery     float64     `json:"battery"`
	QueueLen    int         `json:"queue_len"`
	AssignedAt  time.Time   `json:"assigned_at,omitzero"`
}

// --- Obstacles ---

// ObstacleKind tags an obstacle registry entry.
type ObstacleKind string

// Obstacle kind constants.
const (
	ObstacleWorksite ObstacleKind = "worksite"
	ObstacleAgent    ObstacleKind = "agent"
)

// Circle is a circular exclusion zone on the ground plane.
type Circle struct {
	Center orb.Point
	Radius float64
}

// Contains reports whether p lies within the circle (boundary included).
func (c Circle) Contains(p orb.Point) bool {
	dx := p.X() - c.Center.X()
	dy := p.Y() - c.Center.Y()
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

// Obstacle is an obstacle registry entry keyed by (Kind, Owner).
type Obstacle struct {
	Kind  ObstacleKind `json:"kind"`
	Owner string       `json:"owner"`
	Circle
}

// ObstacleKey identifies a registry entry.
type ObstacleKey struct {
	Kind  ObstacleKind
	Owner string
}

// Key returns the registry key of o.
func (o Obstacle) Key() ObstacleKey {
	return ObstacleKey{Kind: o.Kind, Owner: o.Owner}
}

// Circles flattens obstacles to bare circles for the planner.
func Circles(obs []Obstacle) []Circle {
	out := make([]Circle, len(obs))
	for i, o := range obs {
		out[i] = o.Circle
	}
	return out
}

// --- Events ---

// Event is a dispatcher lifecycle record handed to an event sink.
type Event struct {
	Type     string
	Source   string
	AgentID  string
	TaskID   int64
	Worksite string
	Payload  string
}

// --- Discoveries ---

// Discovery is a marker sighting reported by an agent.
type Discovery struct {
	MarkerID   int      `json:"marker_id"`
	Position   Position `json:"position"`
	Readings   Readings `json:"readings"`
	Confidence float64  `json:"confidence"`
}

// WorksiteNameForMarker derives the worksite identity for a marker.
func WorksiteNameForMarker(markerID int) string {
	return fmt.Sprintf("site-%d", markerID)
}

// ExploreTargetName is the synthetic worksite identity of an exploration point.
func ExploreTargetName(index int) string {
	return fmt.Sprintf("explore-%d", index)
}
