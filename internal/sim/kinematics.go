package sim

import (
	"math"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// limitAcceleration clamps a commanded acceleration to the agent's forward
// and lift-limited normal acceleration. A zero MaxForwardAcceleration leaves
// the forward component unbounded.
func limitAcceleration(p model.Performance, s core.KinematicState, cmd core.Vec3) core.Vec3 {
	forward := core.FrameFromHeading(s.Velocity).Forward
	along := cmd.Dot(forward)
	normal := cmd.Sub(forward.Scale(along))
	if p.MaxForwardAcceleration > 0 {
		along = math.Max(-p.MaxForwardAcceleration, math.Min(along, p.MaxForwardAcceleration))
	}
	if maxNormal := core.MaxNormalAcceleration(p, s.Speed()); normal.Norm() > maxNormal {
		normal = normal.Normalize().Scale(maxNormal)
	}
	return forward.Scale(along).Add(normal)
}

// dragDeceleration is the air drag plus lift-induced drag, in m/s^2, for an
// agent pulling lift of normal acceleration.
func dragDeceleration(p model.Performance, s core.KinematicState, lift core.Vec3) float64 {
	speed := s.Speed()
	mass := p.Mass
	if mass <= 0 {
		mass = 1
	}
	dynamicPressure := 0.5 * core.AirDensityAtAltitude(s.Position.Y) * speed * speed
	air := p.DragCoefficient * dynamicPressure * p.CrossSectionalArea / mass
	ratio := p.LiftDragRatio
	if ratio <= 0 {
		ratio = 1
	}
	return air + lift.Norm()/ratio
}

// interceptorAcceleration turns a guidance command into the net
// acceleration of a powered interceptor: limited command, boost thrust
// along the nose while boosting, and drag. Drag never reverses the agent
// within one step.
func interceptorAcceleration(p model.Performance, s core.KinematicState, cmd core.Vec3, boosting bool, dt float64) core.Vec3 {
	forward := core.FrameFromHeading(s.Velocity).Forward
	limited := limitAcceleration(p, s, cmd)
	total := limited
	if boosting {
		total = total.Add(forward.Scale(p.BoostAcceleration * core.Gravity))
	}
	drag := dragDeceleration(p, s, limited.ProjectOnPlane(forward))
	if dt > 0 {
		drag = math.Min(drag, s.Speed()/dt)
	}
	return total.Sub(forward.Scale(drag))
}

// integrate advances s by dt under constant acceleration using the
// trapezoidal rule. The speed is capped at maxSpeed when it is positive.
func integrate(s core.KinematicState, accel core.Vec3, dt, maxSpeed float64) core.KinematicState {
	v := s.Velocity.Add(accel.Scale(dt))
	if maxSpeed > 0 && v.Norm() > maxSpeed {
		v = v.Normalize().Scale(maxSpeed)
	}
	return core.KinematicState{
		Position:     s.Position.Add(s.Velocity.Add(v).Scale(dt / 2)),
		Velocity:     v,
		Acceleration: accel,
	}
}

// cruiseSpeed is the speed a threat holds when not evading.
func cruiseSpeed(p model.Performance, s core.KinematicState) float64 {
	switch {
	case p.Power.Cruise > 0:
		return p.Power.Cruise
	case p.Power.Max > 0:
		return p.Power.Max
	default:
		return s.Speed()
	}
}
