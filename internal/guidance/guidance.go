// Package guidance turns a relative transformation into a commanded
// acceleration.
package guidance

import (
	"math"

	"github.com/signalsfoundry/engagement-simulator/core"
)

const (
	// DefaultGain is the navigation constant used when none is configured.
	DefaultGain = 5.0

	strongTurnFactor = 100.0
	minLOSRate       = 0.2
	abeamBand        = 10 * math.Pi / 180
)

// Law computes an acceleration command in world coordinates for an agent
// with the given local frame.
type Law interface {
	Command(frame core.Frame, rel core.Transformation) core.Vec3
}

// ToTarget evaluates law for an agent pursuing target.
func ToTarget(law Law, self, target core.KinematicState) core.Vec3 {
	frame := core.FrameFromHeading(self.Velocity)
	return law.Command(frame, core.RelativeTransformation(self, frame, target))
}

// ToWaypoint evaluates law for an agent flying to a fixed point.
func ToWaypoint(law Law, self core.KinematicState, waypoint core.Vec3) core.Vec3 {
	frame := core.FrameFromHeading(self.Velocity)
	return law.Command(frame, core.RelativeToWaypoint(self, frame, waypoint))
}

// PN is proportional navigation: acceleration proportional to the line of
// sight rotation rate, scaled by the closing speed.
type PN struct {
	Gain float64
}

// Rates returns the azimuth and elevation line of sight rates and the turn
// factor PN applies to rel. A receding target gets a stronger turn. Near the
// beam the rates are pushed to at least minLOSRate in magnitude so the
// pursuer does not orbit its target.
func (p PN) Rates(rel core.Transformation) (azimuthRate, elevationRate, turnFactor float64) {
	azimuthRate = rel.Velocity.Azimuth
	elevationRate = rel.Velocity.Elevation
	closing := -rel.Velocity.Range

	turnFactor = closing
	if closing < 0 {
		turnFactor = math.Max(1, math.Abs(closing)*strongTurnFactor)
	}
	if nearBeam(rel.Position.Azimuth) || nearBeam(rel.Position.Elevation) {
		azimuthRate = core.Sign(azimuthRate) * math.Max(math.Abs(azimuthRate), minLOSRate)
		elevationRate = core.Sign(elevationRate) * math.Max(math.Abs(elevationRate), minLOSRate)
		turnFactor = math.Abs(closing) * strongTurnFactor
	}
	return azimuthRate, elevationRate, turnFactor
}

func nearBeam(angle float64) bool {
	return math.Abs(math.Abs(angle)-math.Pi/2) < abeamBand
}

// Command implements Law.
func (p PN) Command(frame core.Frame, rel core.Transformation) core.Vec3 {
	gain := p.gain()
	az, el, turn := p.Rates(rel)
	return frame.Right.Scale(gain * turn * az).Add(frame.Up.Scale(gain * turn * el))
}

func (p PN) gain() float64 {
	if p.Gain == 0 {
		return DefaultGain
	}
	return p.Gain
}

// APN is PN with a feed-forward term for the target's acceleration normal to
// the pursuer's heading.
type APN struct {
	Gain float64
}

// Command implements Law.
func (a APN) Command(frame core.Frame, rel core.Transformation) core.Vec3 {
	pn := PN(a)
	normal := rel.Acceleration.Cartesian.ProjectOnPlane(frame.Forward)
	return pn.Command(frame, rel).Add(normal.Scale(pn.gain() / 2))
}

// Waypoint flies straight at a point: full forward acceleration plus full
// normal acceleration toward the point.
type Waypoint struct {
	MaxForward float64
	MaxNormal  float64
}

// Command implements Law.
func (w Waypoint) Command(frame core.Frame, rel core.Transformation) core.Vec3 {
	normal := rel.Position.Cartesian.ProjectOnPlane(frame.Forward).Normalize()
	return frame.Forward.Scale(w.MaxForward).Add(normal.Scale(w.MaxNormal))
}
