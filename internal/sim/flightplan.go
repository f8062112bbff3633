package sim

import (
	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// flightLeg returns the point a threat at s steers for and the speed it
// holds on the way to objective. Each plan waypoint sits its distance short
// of objective, on the current line of approach, at its own altitude. Once
// every waypoint is behind, the threat flies at objective with the power of
// the last one. Without a plan it cruises straight at objective.
func flightLeg(plan model.FlightPlan, perf model.Performance, s core.KinematicState, objective core.Vec3) (core.Vec3, float64) {
	if len(plan.Waypoints) == 0 {
		return objective, cruiseSpeed(perf, s)
	}
	toObjective := objective.Sub(s.Position)
	leg := plan.Leg(toObjective.Norm())
	wp := plan.Waypoints[min(leg, len(plan.Waypoints)-1)]
	speed := perf.Power.Lookup(wp.Power)
	if speed <= 0 {
		speed = cruiseSpeed(perf, s)
	}
	if leg == len(plan.Waypoints) {
		return objective, speed
	}
	point := objective.Sub(toObjective.Normalize().Scale(wp.Distance))
	point.Y = wp.Altitude
	return point, speed
}
