package core

import "math"

// KinematicState is an agent's position, velocity and acceleration in the
// world frame. The decision core reads it every tick and never owns it.
type KinematicState struct {
	Position     Vec3
	Velocity     Vec3
	Acceleration Vec3
}

// Speed returns the magnitude of the velocity.
func (s KinematicState) Speed() float64 { return s.Velocity.Norm() }

// Frame is an agent's local basis: x = Right, y = Up, z = Forward.
type Frame struct {
	Forward Vec3
	Right   Vec3
	Up      Vec3
}

// IdentityFrame is aligned with the world axes.
var IdentityFrame = Frame{Forward: WorldForward, Right: WorldRight, Up: WorldUp}

// FrameFromHeading builds a right-handed local frame whose forward axis is
// aligned with heading and whose up axis is as close to world up as possible.
// A zero heading yields IdentityFrame and a vertical heading falls back to
// world +X as the right axis.
func FrameFromHeading(heading Vec3) Frame {
	forward := heading.Normalize()
	if forward.IsZero() {
		return IdentityFrame
	}
	right := WorldUp.Cross(forward).Normalize()
	if right.IsZero() {
		right = WorldRight
	}
	up := forward.Cross(right).Normalize()
	return Frame{Forward: forward, Right: right, Up: up}
}

// ToLocal expresses a world-frame vector in the frame's basis.
func (f Frame) ToLocal(v Vec3) Vec3 {
	return Vec3{X: v.Dot(f.Right), Y: v.Dot(f.Up), Z: v.Dot(f.Forward)}
}

// ToWorld expresses a local-frame vector in world coordinates.
func (f Frame) ToWorld(v Vec3) Vec3 {
	return f.Right.Scale(v.X).Add(f.Up.Scale(v.Y)).Add(f.Forward.Scale(v.Z))
}

// PositionTransformation is a relative position in Cartesian (world frame)
// and spherical (local frame, radians) form.
type PositionTransformation struct {
	Cartesian Vec3
	Range     float64
	Azimuth   float64
	Elevation float64
}

// VelocityTransformation holds the relative velocity and the time
// derivatives of range, azimuth and elevation.
type VelocityTransformation struct {
	Cartesian Vec3
	Range     float64
	Azimuth   float64
	Elevation float64
}

// AccelerationTransformation holds the observed agent's acceleration.
type AccelerationTransformation struct {
	Cartesian Vec3
}

// Transformation describes one agent as seen from another's local frame. It
// is computed fresh for every use.
type Transformation struct {
	Position     PositionTransformation
	Velocity     VelocityTransformation
	Acceleration AccelerationTransformation
}

// RelativeTransformation returns the transformation of target as seen by an
// observer with the given state and frame. Azimuth is positive toward the
// observer's right and elevation positive toward its up axis. When the target
// is directly above or below the observer the azimuth rate is zero and the
// elevation rate is derived from the horizontal speed.
func RelativeTransformation(observer KinematicState, frame Frame, target KinematicState) Transformation {
	relPos := target.Position.Sub(observer.Position)
	relVel := target.Velocity.Sub(observer.Velocity)
	p := frame.ToLocal(relPos)
	v := frame.ToLocal(relVel)

	horizontalSqr := p.X*p.X + p.Z*p.Z
	horizontal := math.Sqrt(horizontalSqr)
	rangeSqr := horizontalSqr + p.Y*p.Y
	rng := math.Sqrt(rangeSqr)

	var azimuth, elevation float64
	if rng > Epsilon {
		azimuth = math.Atan2(p.X, p.Z)
		elevation = math.Atan2(p.Y, horizontal)
	}

	var rangeRate, azimuthRate, elevationRate float64
	if rng > Epsilon {
		rangeRate = v.Dot(p) / rng
	}
	switch {
	case horizontal > Epsilon:
		azimuthRate = -(p.X*v.Z - p.Z*v.X) / horizontalSqr
		elevationRate = (v.Y*horizontal - p.Y*(p.X*v.X+p.Z*v.Z)/horizontal) / rangeSqr
	case rng > Epsilon:
		horizontalSpeed := math.Sqrt(v.X*v.X + v.Z*v.Z)
		y := p.Y
		if math.Abs(y) <= Epsilon {
			y = Sign(y) * Epsilon
		}
		elevationRate = -horizontalSpeed / y
	}

	return Transformation{
		Position: PositionTransformation{
			Cartesian: relPos,
			Range:     rng,
			Azimuth:   azimuth,
			Elevation: elevation,
		},
		Velocity: VelocityTransformation{
			Cartesian: relVel,
			Range:     rangeRate,
			Azimuth:   azimuthRate,
			Elevation: elevationRate,
		},
		Acceleration: AccelerationTransformation{Cartesian: target.Acceleration},
	}
}

// RelativeToWaypoint returns the transformation of a stationary waypoint.
func RelativeToWaypoint(observer KinematicState, frame Frame, waypoint Vec3) Transformation {
	return RelativeTransformation(observer, frame, KinematicState{Position: waypoint})
}
