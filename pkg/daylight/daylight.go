// Package daylight models the day/night illumination cycle that gates solar
// charging.
package daylight

import (
	"math"
	"sync"
	"time"
)

// Defaults for a Cycle.
const (
	DefaultLength    = 60 * time.Second
	DefaultThreshold = 0.4
)

// Signal is the daylight feed consumed by power machines.
type Signal interface {
	IsDay() bool
}

// Always is a constant Signal.
type Always bool

// IsDay returns the constant value.
func (a Always) IsDay() bool { return bool(a) }

// Cycle is a periodic brightness curve: dark at phase 0, brightest at phase 0.5.
// It is safe for concurrent use.
type Cycle struct {
	mu        sync.Mutex
	length    time.Duration
	threshold float64
	elapsed   time.Duration
}

// NewCycle returns a cycle at phase 0. Non-positive arguments take defaults.
func NewCycle(length time.Duration, threshold float64) *Cycle {
	if length <= 0 {
		length = DefaultLength
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Cycle{length: length, threshold: threshold}
}

// Advance moves the cycle forward by d.
func (c *Cycle) Advance(d time.Duration) {
	c.mu.Lock()
	c.elapsed = (c.elapsed + d) % c.length
	c.mu.Unlock()
}

// SetPhase jumps to phase f in [0,1).
func (c *Cycle) SetPhase(f float64) {
	f -= math.Floor(f)
	c.mu.Lock()
	c.elapsed = time.Duration(f * float64(c.length))
	c.mu.Unlock()
}

// Phase returns the position within the current day in [0,1).
func (c *Cycle) Phase() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.elapsed) / float64(c.length)
}

// Brightness returns (cos(2πf − π) + 1) / 2 for the current phase f.
func (c *Cycle) Brightness() float64 {
	return Brightness(c.Phase())
}

// IsDay reports whether brightness is at or above the threshold.
func (c *Cycle) IsDay() bool {
	return c.Brightness() >= c.threshold
}

// Brightness evaluates the curve at phase f.
func Brightness(f float64) float64 {
	return (math.Cos(2*math.Pi*f-math.Pi) + 1) / 2
}
