package planning

import "github.com/signalsfoundry/engagement-simulator/core"

// LaunchPlan is a release decision.
type LaunchPlan struct {
	ShouldLaunch bool
	// LaunchAngle is measured from the horizon in degrees.
	LaunchAngle float64
	// InterceptPosition is the predicted target position at intercept in
	// world coordinates.
	InterceptPosition core.Vec3
}

// NoLaunch is the plan that releases nothing.
func NoLaunch() LaunchPlan { return LaunchPlan{} }

// NormalizedLaunchVector points from origin toward the intercept azimuth,
// pitched up by the launch angle.
func (p LaunchPlan) NormalizedLaunchVector(origin core.Vec3) core.Vec3 {
	dir := core.ToSpherical(p.InterceptPosition.Sub(origin))
	return core.Spherical{Range: 1, Azimuth: dir.Azimuth, Elevation: p.LaunchAngle}.Cartesian()
}
