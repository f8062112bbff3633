package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameFromHeading(t *testing.T) {
	f := FrameFromHeading(Vec3{X: 2})
	assert.InDelta(t, 0, f.Forward.DistanceTo(WorldRight), 1e-12)
	assert.InDelta(t, 0, f.Right.DistanceTo(Vec3{Z: -1}), 1e-12)
	assert.InDelta(t, 0, f.Up.DistanceTo(WorldUp), 1e-12)

	assert.Equal(t, IdentityFrame, FrameFromHeading(Zero))

	vertical := FrameFromHeading(Vec3{Y: 5})
	assert.InDelta(t, 0, vertical.Right.DistanceTo(WorldRight), 1e-12)
	assert.InDelta(t, 0, vertical.Up.DistanceTo(Vec3{Z: -1}), 1e-12)
}

func TestRelativeTransformationStraightAhead(t *testing.T) {
	observer := KinematicState{Velocity: Vec3{Z: 1}}
	target := KinematicState{Position: Vec3{Z: 100}}

	rel := RelativeTransformation(observer, FrameFromHeading(observer.Velocity), target)
	assert.InDelta(t, 100, rel.Position.Range, 1e-12)
	assert.InDelta(t, 0, rel.Position.Azimuth, 1e-12)
	assert.InDelta(t, 0, rel.Position.Elevation, 1e-12)
	assert.InDelta(t, -1, rel.Velocity.Range, 1e-12)
	assert.Equal(t, Vec3{Z: 100}, rel.Position.Cartesian)
}

func TestRelativeTransformationBearings(t *testing.T) {
	observer := KinematicState{Velocity: Vec3{Z: 10}}
	frame := FrameFromHeading(observer.Velocity)

	right := RelativeToWaypoint(observer, frame, Vec3{X: 50})
	assert.InDelta(t, math.Pi/2, right.Position.Azimuth, 1e-12)

	behind := RelativeToWaypoint(observer, frame, Vec3{Z: -50})
	assert.InDelta(t, math.Pi, math.Abs(behind.Position.Azimuth), 1e-12)

	up := RelativeToWaypoint(observer, frame, Vec3{Z: 50, Y: 50})
	assert.InDelta(t, math.Pi/4, up.Position.Elevation, 1e-12)
}

func TestRelativeTransformationAzimuthRate(t *testing.T) {
	target := KinematicState{Position: Vec3{Z: 100}, Velocity: Vec3{X: 10}}
	rel := RelativeTransformation(KinematicState{}, IdentityFrame, target)
	assert.InDelta(t, 0.1, rel.Velocity.Azimuth, 1e-12)
	assert.InDelta(t, 0, rel.Velocity.Elevation, 1e-12)
}

func TestRelativeTransformationDirectlyAbove(t *testing.T) {
	observer := KinematicState{Velocity: Vec3{Z: 1}}
	target := KinematicState{Position: Vec3{Y: 100}}

	rel := RelativeTransformation(observer, FrameFromHeading(observer.Velocity), target)
	assert.InDelta(t, math.Pi/2, rel.Position.Elevation, 1e-12)
	assert.Equal(t, 0.0, rel.Velocity.Azimuth)
	assert.InDelta(t, -0.01, rel.Velocity.Elevation, 1e-12)
}

func TestRelativeTransformationCoincident(t *testing.T) {
	state := KinematicState{Position: Vec3{X: 1, Y: 2, Z: 3}, Velocity: Vec3{X: 4}}
	rel := RelativeTransformation(state, FrameFromHeading(state.Velocity), state)

	for name, v := range map[string]float64{
		"range":          rel.Position.Range,
		"azimuth":        rel.Position.Azimuth,
		"elevation":      rel.Position.Elevation,
		"range rate":     rel.Velocity.Range,
		"azimuth rate":   rel.Velocity.Azimuth,
		"elevation rate": rel.Velocity.Elevation,
	} {
		require.False(t, math.IsNaN(v), "%s is NaN", name)
		assert.Equal(t, 0.0, v, name)
	}
}
