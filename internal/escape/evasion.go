package escape

import (
	"math"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/model"
)

const (
	// DefaultEvasionRange is the pursuer range, in metres, inside which an
	// agent starts evading.
	DefaultEvasionRange = 1000.0

	groundProximityFactor = 5.0
	groundAvoidanceUp     = 5.0
)

// Evader is the agent doing the evading.
type Evader struct {
	State       core.KinematicState
	Performance model.Performance
	// Threat agents also throttle up to their maximum power speed.
	Threat bool
}

// Evasion chooses an override acceleration for an agent under pursuit.
type Evasion interface {
	ShouldEvade(self Evader, pursuer core.KinematicState) bool
	// Evade returns the acceleration to apply instead of the nominal
	// guidance command. dt is the simulation step.
	Evade(self Evader, pursuer core.KinematicState, dt float64) core.Vec3
}

// NoEvasion never evades.
type NoEvasion struct{}

// ShouldEvade implements Evasion.
func (NoEvasion) ShouldEvade(Evader, core.KinematicState) bool { return false }

// Evade implements Evasion.
func (NoEvasion) Evade(Evader, core.KinematicState, float64) core.Vec3 { return core.Zero }

// OrthogonalEvasion turns the agent's velocity orthogonal to the pursuer's,
// forcing the pursuer into a hard normal-acceleration turn.
type OrthogonalEvasion struct {
	Enabled bool
	// RangeThreshold defaults to DefaultEvasionRange.
	RangeThreshold float64
}

// ShouldEvade implements Evasion: an enabled evader reacts to a closing
// pursuer within range.
func (o OrthogonalEvasion) ShouldEvade(self Evader, pursuer core.KinematicState) bool {
	if !o.Enabled {
		return false
	}
	threshold := o.RangeThreshold
	if threshold <= 0 {
		threshold = DefaultEvasionRange
	}
	rel := core.RelativeTransformation(self.State, core.FrameFromHeading(self.State.Velocity), pursuer)
	return rel.Position.Range <= threshold && rel.Velocity.Range < 0
}

// Evade implements Evasion. The turn goes away from the pursuer. Close to
// the ground while descending, the command blends toward a climbing turn
// away from the pursuer's side.
func (o OrthogonalEvasion) Evade(self Evader, pursuer core.KinematicState, dt float64) core.Vec3 {
	velocity := self.State.Velocity
	frame := core.FrameFromHeading(velocity)

	normal := velocity.ProjectOnPlane(pursuer.Velocity)
	if normal.IsZero() {
		normal = core.FrameFromHeading(pursuer.Velocity).Right
	}
	direction := normal.ProjectOnPlane(velocity).Normalize()

	toPursuer := pursuer.Position.Sub(self.State.Position)
	if toPursuer.Dot(direction) > 0 {
		direction = direction.Neg()
	}

	altitude := self.State.Position.Y
	groundThreshold := groundProximityFactor * math.Abs(velocity.Y)
	if velocity.Y < 0 && altitude < groundThreshold {
		side := frame.Right
		if toPursuer.Dot(frame.Right) > 0 {
			side = side.Neg()
		}
		escape := side.Add(frame.Up.Scale(groundAvoidanceUp))
		direction = direction.Lerp(escape, 1-altitude/groundThreshold).Normalize()
	}

	accel := direction.Scale(core.MaxNormalAcceleration(self.Performance, self.State.Speed()))
	if self.Threat && dt > 0 {
		speedError := self.Performance.Power.Max - self.State.Speed()
		accel = accel.Add(frame.Forward.Scale(speedError / dt))
	}
	return accel
}
